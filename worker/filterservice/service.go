package filterservice

import (
	"fmt"

	"golang.org/x/net/context"
	"google.golang.org/grpc"
)

// FilterRequest asks a worker to speckle filter one band.
type FilterRequest struct {
	ID         string    `msgpack:"id"`
	Width      int       `msgpack:"width"`
	Height     int       `msgpack:"height"`
	KernelSize int       `msgpack:"kernel_size"`
	Damping    float64   `msgpack:"damping"`
	Data       []float64 `msgpack:"data"`
}

func (r *FilterRequest) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("request %s: invalid size %dx%d", r.ID, r.Width, r.Height)
	}
	if len(r.Data) != r.Width*r.Height {
		return fmt.Errorf("request %s: %d samples for a %dx%d band", r.ID, len(r.Data), r.Width, r.Height)
	}
	return nil
}

// FilterResult carries the smoothed band. Error is "OK" on success.
type FilterResult struct {
	ID    string    `msgpack:"id"`
	Data  []float64 `msgpack:"data"`
	Error string    `msgpack:"error"`
}

const processMethod = "/filterservice.Filter/Process"

type FilterServer interface {
	Process(ctx context.Context, in *FilterRequest) (*FilterResult, error)
}

func filterProcessHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(FilterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FilterServer).Process(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: processMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FilterServer).Process(ctx, req.(*FilterRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var filterServiceDesc = grpc.ServiceDesc{
	ServiceName: "filterservice.Filter",
	HandlerType: (*FilterServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Process",
			Handler:    filterProcessHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "filterservice",
}

func RegisterFilterServer(s *grpc.Server, srv FilterServer) {
	s.RegisterService(&filterServiceDesc, srv)
}

type FilterClient struct {
	cc grpc.ClientConnInterface
}

func NewFilterClient(cc grpc.ClientConnInterface) *FilterClient {
	return &FilterClient{cc}
}

func (c *FilterClient) Process(ctx context.Context, in *FilterRequest, opts ...grpc.CallOption) (*FilterResult, error) {
	out := new(FilterResult)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, processMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
