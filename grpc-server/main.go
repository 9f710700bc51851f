package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	reuseport "github.com/kavu/go_reuseport"
	"google.golang.org/grpc"

	"github.com/nci/lakeice/processor"
	"github.com/nci/lakeice/utils"
	pb "github.com/nci/lakeice/worker/filterservice"
)

func frostFilter(req *pb.FilterRequest) (*pb.FilterResult, error) {
	grid := processor.Grid{Width: req.Width, Height: req.Height}
	band := &processor.Band{Grid: grid, NameSpace: req.ID, Data: req.Data}
	smooth, err := processor.FrostFilterBand(band, processor.FrostParams{KernelSize: req.KernelSize, Damping: req.Damping})
	if err != nil {
		return &pb.FilterResult{ID: req.ID, Error: err.Error()}, nil
	}
	return &pb.FilterResult{ID: req.ID, Data: smooth.Data, Error: "OK"}, nil
}

func main() {
	port := flag.Int("p", 6000, "gRPC server listening port.")
	poolSize := flag.Int("n", 8, "Maximum number of requests handled concurrently.")
	maxMsgSize := flag.Int("max_msg_size", utils.DefaultRecvMsgSize, "Maximum gRPC message size in bytes.")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	log, err := utils.InitLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	p := pb.CreateProcessPool(*poolSize, frostFilter, log)

	s := grpc.NewServer(grpc.MaxRecvMsgSize(*maxMsgSize), grpc.MaxSendMsgSize(*maxMsgSize))
	pb.RegisterFilterServer(s, &pb.Server{Pool: p})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-signals
		log.Info("shutting down filter worker")
		s.GracefulStop()
	}()

	// several workers may share a port on one node
	lis, err := reuseport.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	log.Infow("filter worker listening", "port", *port, "pool", *poolSize)

	if err := s.Serve(lis); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
	p.Close()
}
