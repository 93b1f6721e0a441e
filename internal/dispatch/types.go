// Package dispatch implements C6, the dispatch/RPC layer: a server that
// matches arriving requests to idle workers in arrival order, workers that
// each own a local executor (C3), and a client that submits requests and
// follows their event stream.
//
// Grounded on internal/messaging's wire-message shapes (Correlation,
// RuntimeData, Status) and cmd/test/test.go's SQS submit/poll loop, with
// the transport itself drawn from the teacher's NATS and SQS dependencies
// rather than the gRPC-shaped "stream" verbs spec.md describes abstractly:
// NATS request-reply stands in for Execute, NATS subject subscriptions
// stand in for the RequestFile/SendChunk back-channels, and NATS
// publish/subscribe stands in for Events(session_id).
package dispatch

import (
	"time"

	"github.com/lvgrader/grader/internal/model"
)

// Subjects is the fixed mapping from spec.md's RPC verbs onto NATS
// subjects. Every worker, server and client in one deployment must agree
// on the same prefix.
type Subjects struct {
	Prefix string
}

func DefaultSubjects() Subjects { return Subjects{Prefix: "grader"} }

func (s Subjects) Register() string       { return s.Prefix + ".worker.register" }
func (s Subjects) Heartbeat() string       { return s.Prefix + ".worker.heartbeat" }
func (s Subjects) Work(workerID string) string {
	return s.Prefix + ".worker." + workerID + ".work"
}
func (s Subjects) Events(sessionID string) string {
	return s.Prefix + ".events." + sessionID
}
func (s Subjects) FileRequest(transferID string) string {
	return s.Prefix + ".file.request." + transferID
}
func (s Subjects) FileChunk(transferID string) string {
	return s.Prefix + ".file.chunk." + transferID
}

// MaxChunkBytes bounds one SendChunk/RequestFile frame, per spec.md's
// "opaque byte slice, <= 64 KiB recommended".
const MaxChunkBytes = 64 * 1024

// RegisterRequest is what a worker sends to announce itself and its free
// capacity. The server replies with RegisterReply carrying the worker's
// assigned id.
type RegisterRequest struct {
	Capacity int `json:"capacity"`
}

type RegisterReply struct {
	WorkerID string `json:"worker_id"`
}

// ExecuteRequest is one client submission, addressed by SessionID so its
// events can be correlated to the right Events(session_id) subject.
type ExecuteRequest struct {
	SessionID string                `json:"session_id"`
	Request   model.ExecutionRequest `json:"request"`
}

// ExecuteReply is the terminal Response for one ExecuteRequest.
type ExecuteReply struct {
	Response     model.Response `json:"response"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// workItem is the server's internal representation of one pending or
// in-flight request: the wire request plus bookkeeping for re-dispatch.
type workItem struct {
	req        ExecuteRequest
	enqueuedAt time.Time
	attempts   int
	reply      chan ExecuteReply
}

// Chunk is one frame of a file transfer. A zero-length Data terminates the
// stream, matching spec.md's "zero-length chunk = end-of-stream".
type Chunk struct {
	Data []byte `json:"data"`
}
