package processor

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/context"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pb "github.com/nci/lakeice/worker/filterservice"
)

// FilterGRPC is the Frost filter stage running on remote filter workers.
// Images are spread over the workers round robin; output order follows
// input order.
type FilterGRPC struct {
	Context            context.Context
	In                 chan *GeoImage
	Out                chan *GeoImage
	Error              chan error
	Clients            []string
	MaxGrpcRecvMsgSize int
	ConcLimit          int
	NameSpace          string
	Params             FrostParams
	DialOptions        []grpc.DialOption
	Log                *zap.SugaredLogger
}

func NewFilterGRPC(ctx context.Context, serverAddress []string, maxGrpcRecvMsgSize int, ns string, params FrostParams, errChan chan error) *FilterGRPC {
	return &FilterGRPC{
		Context:            ctx,
		In:                 make(chan *GeoImage, 100),
		Out:                make(chan *GeoImage, 100),
		Error:              errChan,
		Clients:            serverAddress,
		MaxGrpcRecvMsgSize: maxGrpcRecvMsgSize,
		ConcLimit:          2 * len(serverAddress),
		NameSpace:          ns,
		Params:             params,
		Log:                zap.NewNop().Sugar(),
	}
}

func (gi *FilterGRPC) Run() {
	defer close(gi.Out)

	var imgs Sequence
	for img := range gi.In {
		imgs = append(imgs, img)
	}
	if len(imgs) == 0 {
		return
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(gi.MaxGrpcRecvMsgSize), grpc.MaxCallSendMsgSize(gi.MaxGrpcRecvMsgSize)),
	}, gi.DialOptions...)

	clientIdx := rand.Perm(len(gi.Clients))
	var conns []grpc.ClientConnInterface
	for _, ic := range clientIdx {
		conn, err := grpc.NewClient(gi.Clients[ic], opts...)
		if err != nil {
			gi.Log.Warnf("gRPC connection problem: %v", err)
			continue
		}
		defer conn.Close()
		conns = append(conns, conn)
	}
	if len(conns) == 0 {
		gi.Error <- fmt.Errorf("All gRPC servers offline")
		return
	}

	t0 := time.Now()
	results, err := FilterSequenceRemote(gi.Context, conns, imgs, gi.NameSpace, gi.Params, gi.ConcLimit)
	if err != nil {
		gi.Error <- err
		return
	}
	gi.Log.Debugw("remote frost filter done", "images", len(results), "workers", len(conns), "duration", time.Since(t0))

	for _, img := range results {
		select {
		case <-gi.Context.Done():
			gi.Error <- fmt.Errorf("filter gRPC context has been cancelled: %v", gi.Context.Err())
			return
		case gi.Out <- img:
		}
	}
}

// FilterSequenceRemote filters every image of seq on the given worker
// connections, at most concLimit requests in flight.
func FilterSequenceRemote(ctx context.Context, conns []grpc.ClientConnInterface, seq Sequence, ns string, params FrostParams, concLimit int) (Sequence, error) {
	if concLimit <= 0 {
		concLimit = len(conns)
	}
	out := make(Sequence, len(seq))
	errs := make([]error, len(seq))
	limiter := NewConcLimiter(concLimit)

	for i, img := range seq {
		band, ok := img.Band(ns)
		if !ok {
			return nil, fmt.Errorf("image %s has no band %q", img.ID, ns)
		}
		client := pb.NewFilterClient(conns[i%len(conns)])

		limiter.Increase()
		go func(i int, img *GeoImage, band *Band) {
			defer limiter.Decrease()
			req := &pb.FilterRequest{ID: img.ID, Width: band.Width, Height: band.Height, KernelSize: params.KernelSize, Damping: params.Damping, Data: band.Data}
			res, err := client.Process(ctx, req)
			if err != nil {
				errs[i] = fmt.Errorf("filtering %s: %v", img.ID, err)
				return
			}
			if len(res.Data) != len(band.Data) {
				errs[i] = fmt.Errorf("filtering %s: worker returned %d samples, want %d", img.ID, len(res.Data), len(band.Data))
				return
			}
			out[i] = img.WithBand(&Band{Grid: band.Grid, NameSpace: SmoothNS, Data: res.Data})
		}(i, img, band)
	}
	limiter.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
