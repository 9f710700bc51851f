package filterservice

import (
	"net"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/context"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func doubler(req *FilterRequest) (*FilterResult, error) {
	out := make([]float64, len(req.Data))
	for i, v := range req.Data {
		out[i] = 2 * v
	}
	return &FilterResult{ID: req.ID, Data: out, Error: "OK"}, nil
}

func startServer(t *testing.T, filter FilterFunc) *FilterClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	pool := CreateProcessPool(2, filter, nil)
	RegisterFilterServer(s, &Server{Pool: pool})
	go s.Serve(lis)
	t.Cleanup(func() {
		s.Stop()
		pool.Close()
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewFilterClient(conn)
}

func TestProcessRoundTrip(t *testing.T) {
	client := startServer(t, doubler)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := client.Process(ctx, &FilterRequest{ID: "a", Width: 2, Height: 1, KernelSize: 3, Damping: -1, Data: []float64{1.5, -2}})
	if err != nil {
		t.Fatal(err)
	}
	if res.ID != "a" || len(res.Data) != 2 || res.Data[0] != 3 || res.Data[1] != -4 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestProcessInvalidRequest(t *testing.T) {
	client := startServer(t, doubler)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Process(ctx, &FilterRequest{ID: "bad", Width: 2, Height: 2, Data: []float64{1}})
	if err == nil || !strings.Contains(err.Error(), "samples") {
		t.Errorf("expected a size error, got %v", err)
	}
}

func TestProcessReportedError(t *testing.T) {
	client := startServer(t, func(req *FilterRequest) (*FilterResult, error) {
		return &FilterResult{ID: req.ID, Error: "kernel too large"}, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Process(ctx, &FilterRequest{ID: "x", Width: 1, Height: 1, Data: []float64{1}})
	if err == nil || !strings.Contains(err.Error(), "kernel too large") {
		t.Errorf("expected the worker error, got %v", err)
	}
}

func TestAddQueueFull(t *testing.T) {
	p := &ProcessPool{TaskQueue: make(chan *Task)}
	task := NewTask(&FilterRequest{})
	p.AddQueue(task)
	select {
	case err := <-task.Error:
		if err == nil {
			t.Error("expected an error")
		}
	default:
		t.Error("a full queue should fail the task")
	}
}
