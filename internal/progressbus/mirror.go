package progressbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Mirror republishes every Event handed to Publish onto a NATS subject,
// retrying on the same fixed backoff schedule as the teacher's event
// publisher. Publish retries synchronously, so it blocks its caller until
// it succeeds or gives up; the Session calls it after the event is already
// on its own progress channel.
type Mirror struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

func NewMirror(conn *nats.Conn, subject string, maxRetries int) *Mirror {
	return &Mirror{conn: conn, subject: subject, maxRetries: maxRetries}
}

func (m *Mirror) Publish(ev Event) error {
	wire := struct {
		SessionID string    `json:"session_id"`
		Kind      EventKind `json:"kind"`
		Error     string    `json:"error,omitempty"`
		At        time.Time `json:"at"`
	}{SessionID: ev.SessionID, Kind: ev.Kind, At: ev.At}
	if ev.Err != nil {
		wire.Error = ev.Err.Error()
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("progressbus: marshal: %w", err)
	}

	var pubErr error
	for i := 0; i <= m.maxRetries; i++ {
		pubErr = m.conn.Publish(m.subject, data)
		if pubErr == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("progressbus: publish failed after %d retries: %w", m.maxRetries, pubErr)
}
