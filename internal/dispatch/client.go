package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/lvgrader/grader/internal/model"
)

// Client submits execution requests to a Server and follows their event
// stream, per spec.md §4.6's client role.
type Client struct {
	nc       *nats.Conn
	subjects Subjects
}

func NewClient(nc *nats.Conn, subjects Subjects) *Client {
	return &Client{nc: nc, subjects: subjects}
}

// Submit blocks until the request completes (or ctx is cancelled),
// returning the final Response. If req's SessionID is empty a fresh one
// is assigned here; that ID is not returned to the caller, so a caller
// that wants to follow progress sets SessionID itself and calls Events
// before Submit.
func (c *Client) Submit(ctx context.Context, req model.ExecutionRequest) (*model.Response, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	payload, err := json.Marshal(ExecuteRequest{SessionID: req.SessionID, Request: req})
	if err != nil {
		return nil, err
	}

	msg, err := c.nc.RequestWithContext(ctx, c.subjects.Prefix+".dispatch.execute", payload)
	if err != nil {
		return nil, fmt.Errorf("submit request: %w", err)
	}

	var reply ExecuteReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if reply.ErrorMessage != "" && reply.Response.Status == "" {
		return nil, fmt.Errorf("dispatch: %s", reply.ErrorMessage)
	}
	return &reply.Response, nil
}

// Events subscribes to sessionID's event subject and streams decoded
// events until ctx is cancelled. Grounded on internal/gatherer/natsgath's
// publish side, mirrored here on the subscribe side.
func (c *Client) Events(ctx context.Context, sessionID string) (<-chan model.Event, error) {
	out := make(chan model.Event, 64)
	sub, err := c.nc.Subscribe(c.subjects.Events(sessionID), func(msg *nats.Msg) {
		var ev model.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
		close(out)
	}()
	return out, nil
}
