package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lvgrader/grader/internal/eventbus"
	"github.com/lvgrader/grader/internal/evaluator"
	"github.com/lvgrader/grader/internal/model"
)

// Worker owns one local executor's worth of capacity and serves execution
// requests the server assigns it, per spec.md §4.6. Grounded on
// cmd/test/test.go's SQS receive loop, generalized from a single hardcoded
// queue to a NATS request subject scoped to this worker's assigned id.
type Worker struct {
	nc       *nats.Conn
	subjects Subjects
	capacity int
	run      evaluator.RunFunc
	log      *slog.Logger

	id string
}

// NewWorker wires a Worker to run full evaluations via run, which the
// caller builds from its own internal/evaluator.Evaluator bound to a
// store and executor.
func NewWorker(nc *nats.Conn, subjects Subjects, capacity int, run evaluator.RunFunc, log *slog.Logger) *Worker {
	return &Worker{nc: nc, subjects: subjects, capacity: capacity, run: run, log: log}
}

// Register announces this worker's capacity to the server and records the
// assigned worker id used to address its work subject.
func (w *Worker) Register(ctx context.Context) error {
	payload, _ := json.Marshal(RegisterRequest{Capacity: w.capacity})
	msg, err := w.nc.RequestWithContext(ctx, w.subjects.Register(), payload)
	if err != nil {
		return err
	}
	var reply RegisterReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return err
	}
	w.id = reply.WorkerID
	w.log.Info("registered with dispatch server", "worker_id", w.id)
	return nil
}

// Serve handles assigned work until ctx is cancelled, registering first
// if the worker has no id yet. It registers only once; it does not
// re-register after a dropped connection.
func (w *Worker) Serve(ctx context.Context) error {
	if w.id == "" {
		if err := w.Register(ctx); err != nil {
			return err
		}
	}
	sub, err := w.nc.Subscribe(w.subjects.Work(w.id), func(msg *nats.Msg) {
		go w.handle(ctx, msg)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return nil
}

func (w *Worker) handle(ctx context.Context, msg *nats.Msg) {
	var req ExecuteRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		w.log.Error("worker: bad execute payload", "err", err)
		return
	}

	bus := eventbus.New(req.SessionID)
	sink := eventbus.NATSSink(w.nc, w.subjects.Events(req.SessionID), w.log)
	bus.BindWriter(sink, nil)
	defer bus.Stop()

	runCtx, cancel := context.WithTimeout(ctx, workTimeout)
	defer cancel()

	resp, err := w.run(runCtx, req.Request, bus)
	var reply ExecuteReply
	if err != nil {
		reply = ExecuteReply{ErrorMessage: err.Error(), Response: model.Response{
			SessionID: req.SessionID,
			Status:    string(model.ClassInternal),
			StartedAt: time.Now(),
		}}
	} else {
		reply = ExecuteReply{Response: *resp}
	}

	out, _ := json.Marshal(reply)
	msg.Respond(out)
}
