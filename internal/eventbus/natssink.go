package eventbus

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/lvgrader/grader/internal/model"
)

// NATSSink publishes every event as JSON onto a per-session NATS subject.
// Grounded on internal/gatherer/natsgath, generalized from one hardcoded
// inbox per evaluation into the session-scoped subject convention C6 uses
// for Events(session_id).
func NATSSink(nc *nats.Conn, subject string, log *slog.Logger) func(model.Event) {
	return func(ev model.Event) {
		b, err := json.Marshal(ev)
		if err != nil {
			log.Error("marshal event", "err", err)
			return
		}
		if err := nc.Publish(subject, b); err != nil {
			log.Error("publish event", "subject", subject, "err", err)
		}
	}
}
