package filterservice

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/net/context"
)

// FilterFunc computes the result of one request.
type FilterFunc func(*FilterRequest) (*FilterResult, error)

type Task struct {
	Payload *FilterRequest
	Resp    chan *FilterResult
	Error   chan error
}

func NewTask(payload *FilterRequest) *Task {
	return &Task{Payload: payload, Resp: make(chan *FilterResult, 1), Error: make(chan error, 1)}
}

// ProcessPool runs filter tasks on a fixed number of goroutines fed from a
// bounded queue.
type ProcessPool struct {
	TaskQueue chan *Task
	Size      int
	Log       *zap.SugaredLogger
	filter    FilterFunc
}

const DefaultQueueSize = 400

func CreateProcessPool(n int, filter FilterFunc, log *zap.SugaredLogger) *ProcessPool {
	if n <= 0 {
		n = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	p := &ProcessPool{TaskQueue: make(chan *Task, DefaultQueueSize), Size: n, Log: log, filter: filter}
	for i := 0; i < n; i++ {
		go p.work(i)
	}
	return p
}

func (p *ProcessPool) work(id int) {
	for task := range p.TaskQueue {
		res, err := p.run(task.Payload)
		if err != nil {
			p.Log.Debugw("filter task failed", "worker", id, "request", task.Payload.ID, "error", err)
			task.Error <- err
			continue
		}
		task.Resp <- res
	}
}

func (p *ProcessPool) run(req *FilterRequest) (res *FilterResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("filter panicked: %v", r)
		}
	}()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return p.filter(req)
}

// AddQueue enqueues task, failing it straight away when the queue is full.
func (p *ProcessPool) AddQueue(task *Task) {
	select {
	case p.TaskQueue <- task:
	default:
		task.Error <- fmt.Errorf("Pool TaskQueue is full")
	}
}

// Close stops the workers once the queued tasks are done.
func (p *ProcessPool) Close() {
	close(p.TaskQueue)
}

// Server implements FilterServer on top of a ProcessPool.
type Server struct {
	Pool *ProcessPool
}

func (s *Server) Process(ctx context.Context, in *FilterRequest) (*FilterResult, error) {
	task := NewTask(in)
	s.Pool.AddQueue(task)

	select {
	case out := <-task.Resp:
		if out.Error != "OK" {
			return &FilterResult{}, fmt.Errorf("%s", out.Error)
		}
		return out, nil
	case err := <-task.Error:
		return &FilterResult{}, fmt.Errorf("Error in ops: %v", err)
	case <-ctx.Done():
		return &FilterResult{}, ctx.Err()
	}
}
