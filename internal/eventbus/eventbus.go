// Package eventbus implements C5, the in-process event queue: typed
// producer helpers over a blocking queue with a stop sentinel, and a
// bind_writer-style drain into a caller-supplied sink.
//
// Grounded on internal/gatherer.go's ResultGatherer interface — StartJob,
// StartCompile, FinishCompile, ReachTest, IgnoreTest, FinishTest,
// CompileError, InternalError, FinishNoError — generalized from direct
// interface calls a producer makes on a sink into typed constructors that
// build a model.Event and push it onto a shared queue, so the same call
// sites work against any bound sink (NATS, SQS, terminal, or any other
// func(model.Event)).
package eventbus

import (
	"sync"

	"github.com/lvgrader/grader/internal/model"
)

// Bus is one evaluation's event queue: an ordered channel buffered to 256
// events plus an idempotent stop. When the buffer is full, a producer
// blocks until an event is dequeued or the bus is stopped.
type Bus struct {
	sessionID string
	events    chan model.Event
	stopOnce  sync.Once
	stopped   chan struct{}
}

// New creates a Bus for one evaluation session.
func New(sessionID string) *Bus {
	return &Bus{
		sessionID: sessionID,
		events:    make(chan model.Event, 256),
		stopped:   make(chan struct{}),
	}
}

// Stop is idempotent: it marks the bus finished so Dequeue's second
// return value flips to false once every already-queued event has been
// drained. Safe to call from any producer goroutine, any number of times.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopped) })
}

// Dequeue blocks for the next event, or reports ok=false once the bus is
// stopped and drained.
func (b *Bus) Dequeue() (model.Event, bool) {
	select {
	case ev := <-b.events:
		return ev, true
	case <-b.stopped:
		select {
		case ev := <-b.events:
			return ev, true
		default:
			return model.Event{}, false
		}
	}
}

func (b *Bus) enqueue(ev model.Event) {
	select {
	case b.events <- ev:
	case <-b.stopped:
	}
}

// BindWriter drains the bus into sink until Stop is called and the queue
// is empty, optionally serializing writes with an externally-owned mutex
// (e.g. a shared connection the sink writes through). Grounded on the
// teacher's per-transport gatherer types (natsgath, sqsgath, termgath),
// generalized into one draining loop reusable by every sink.
func (b *Bus) BindWriter(sink func(model.Event), external *sync.Mutex) {
	go func() {
		for {
			ev, ok := b.Dequeue()
			if !ok {
				return
			}
			if external != nil {
				external.Lock()
				sink(ev)
				external.Unlock()
			} else {
				sink(ev)
			}
		}
	}()
}

// --- typed producer helpers, one per event-kind, mirroring ResultGatherer ---

func (b *Bus) StartJob(systemInfo string) {
	b.enqueue(model.Event{SessionID: b.sessionID, Status: model.EventRunning, Message: systemInfo})
}

func (b *Bus) StartCompile() {
	b.enqueue(model.Event{SessionID: b.sessionID, Status: model.EventGenerating})
}

func (b *Bus) FinishCompile(info *model.ExecutionInfo) {
	b.enqueue(model.Event{SessionID: b.sessionID, Status: model.EventGenerated, Info: truncate(info)})
}

func (b *Bus) ReachTest(testID int) {
	id := testID
	b.enqueue(model.Event{SessionID: b.sessionID, Status: model.EventExecuting, TestID: &id})
}

func (b *Bus) IgnoreTest(testID int) {
	id := testID
	b.enqueue(model.Event{SessionID: b.sessionID, Status: model.EventDone, TestID: &id, Message: "ignored"})
}

func (b *Bus) FinishTest(testID int, submission, checker *model.ExecutionInfo) {
	id := testID
	info := truncate(submission)
	if checker != nil {
		checkerInfo := truncate(checker)
		if info != nil {
			info.Message = checkerInfo.Message
		}
	}
	b.enqueue(model.Event{SessionID: b.sessionID, Status: model.EventExecuted, TestID: &id, Info: info})
}

func (b *Bus) CompileError(msg string) {
	b.enqueue(model.Event{SessionID: b.sessionID, Status: model.EventFailure, Message: msg})
}

func (b *Bus) InternalError(msg string) {
	b.enqueue(model.Event{SessionID: b.sessionID, Status: model.EventFailure, Message: msg})
}

func (b *Bus) FinishNoError() {
	b.enqueue(model.Event{SessionID: b.sessionID, Status: model.EventDone})
}

// maxHeight/maxWidth bound the stdout/stderr text echoed in events,
// grounded on api/stream.go's MaxRuntimeDataHeight/MaxRuntimeDataWidth.
// This truncation never touches the artifact retrieved and stored by C1 —
// only what gets echoed on the live event stream.
const (
	maxHeight = 40
	maxWidth  = 80
)

func truncate(info *model.ExecutionInfo) *model.ExecutionInfo {
	if info == nil {
		return nil
	}
	cp := *info
	cp.Stdout = []byte(trimToRect(string(info.Stdout)))
	cp.Stderr = []byte(trimToRect(string(info.Stderr)))
	return &cp
}

func trimToRect(s string) string {
	if s == "" {
		return ""
	}
	lines := splitLines(s)
	if len(lines) > maxHeight {
		lines = append(lines[:maxHeight], "[...]")
	}
	for i, line := range lines {
		if len(line) > maxWidth {
			lines[i] = line[:maxWidth] + "[...]"
		}
	}
	return joinLines(lines)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
