package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/lvgrader/grader/internal/model"
)

// maxAttempts caps redispatch per spec.md §9's resolved open question:
// redispatch at most once on worker loss, then fail the request.
const maxAttempts = 2

// workTimeout bounds how long the server waits for a worker to answer one
// dispatched request before treating it as lost.
const workTimeout = 10 * time.Minute

// Server is the dispatch rendezvous: it accepts worker registrations and
// client requests, and matches them in arrival order per spec.md §4.6.
type Server struct {
	nc       *nats.Conn
	subjects Subjects
	registry *Registry
	log      *slog.Logger

	mu      sync.Mutex
	pending []*workItem

	subs []*nats.Subscription
}

func NewServer(nc *nats.Conn, subjects Subjects, log *slog.Logger) *Server {
	return &Server{nc: nc, subjects: subjects, registry: NewRegistry(), log: log}
}

// Run subscribes the server to its registration and submission subjects
// and starts the scheduling loop. It returns once ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	regSub, err := s.nc.Subscribe(s.subjects.Register(), s.handleRegister)
	if err != nil {
		return err
	}
	execSub, err := s.nc.Subscribe(s.subjects.Prefix+".dispatch.execute", s.handleExecute)
	if err != nil {
		regSub.Unsubscribe()
		return err
	}
	s.subs = []*nats.Subscription{regSub, execSub}

	go s.dispatchLoop(ctx)

	<-ctx.Done()
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	return nil
}

func (s *Server) handleRegister(msg *nats.Msg) {
	var req RegisterRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Error("register: bad payload", "err", err)
		return
	}
	id := uuid.NewString()
	s.registry.Add(id, req.Capacity)
	s.log.Info("worker registered", "worker_id", id, "capacity", req.Capacity)

	reply, _ := json.Marshal(RegisterReply{WorkerID: id})
	msg.Respond(reply)
}

func (s *Server) handleExecute(msg *nats.Msg) {
	var req ExecuteRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		reply, _ := json.Marshal(ExecuteReply{ErrorMessage: "invalid request payload"})
		msg.Respond(reply)
		return
	}
	reply := s.Submit(req)
	out, _ := json.Marshal(reply)
	msg.Respond(out)
}

// Submit enqueues one request and blocks until it is dispatched to a
// worker and answered, or permanently fails after redispatch is
// exhausted. Used directly by SQS ingress, which has no NATS reply-to to
// answer through.
func (s *Server) Submit(req ExecuteRequest) ExecuteReply {
	item := &workItem{req: req, enqueuedAt: time.Now(), reply: make(chan ExecuteReply, 1)}
	s.mu.Lock()
	s.pending = append(s.pending, item)
	s.mu.Unlock()
	return <-item.reply
}

// dispatchLoop ticks every 20ms and hands the head of the pending queue
// to tryDispatchOne. Only the head is considered: while it cannot be
// matched to a free slot it stays at the front (delayed, not rejected),
// and nothing queued behind it is dispatched until it is.
func (s *Server) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tryDispatchOne()
		}
	}
}

func (s *Server) tryDispatchOne() {
	s.mu.Lock()
	var item *workItem
	var idx int
	if len(s.pending) > 0 {
		item, idx = s.pending[0], 0
	}
	s.mu.Unlock()
	if item == nil {
		return
	}

	workerID, slot, ok := s.registry.FindSlot(isExclusive(item.req.Request))
	if !ok {
		return
	}

	s.mu.Lock()
	if idx < len(s.pending) && s.pending[idx] == item {
		s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
	}
	s.mu.Unlock()

	go s.runOnWorker(workerID, slot, item)
}

func isExclusive(req model.ExecutionRequest) bool {
	// ExecutionRequest carries exclusivity implicitly via its checker/
	// compilation phases inside the local executor; at the dispatch layer
	// every top-level submission competes for a normal (non-exclusive)
	// slot, so only explicitly-flagged requests (future extension point)
	// would return true here. Kept as its own function so the scheduling
	// policy has one place to change if that changes.
	return false
}

func (s *Server) runOnWorker(workerID string, slot int, item *workItem) {
	defer s.registry.Release(workerID, slot)

	item.attempts++
	payload, _ := json.Marshal(item.req)
	msg, err := s.nc.Request(s.subjects.Work(workerID), payload, workTimeout)
	if err != nil {
		s.log.Warn("worker lost mid-dispatch", "worker_id", workerID, "err", err)
		s.registry.Remove(workerID)
		if item.attempts < maxAttempts {
			s.mu.Lock()
			s.pending = append([]*workItem{item}, s.pending...)
			s.mu.Unlock()
			return
		}
		item.reply <- ExecuteReply{ErrorMessage: "worker lost; redispatch exhausted", Response: model.Response{
			SessionID: item.req.SessionID,
			Status:    string(model.ClassInternal),
		}}
		return
	}

	var reply ExecuteReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		item.reply <- ExecuteReply{ErrorMessage: "malformed worker reply"}
		return
	}
	item.reply <- reply
}
