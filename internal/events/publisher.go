// Package events publishes speaking-pipeline telemetry to NATS. Publishing is
// fire-and-forget: the pipeline never blocks or fails on the event bus.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectTurnCompleted is emitted after a speaking turn has been generated
// and its persistence attempted.
const SubjectTurnCompleted = "parlo.speaking.turn.completed"

// TurnCompleted describes one finished assistant turn for downstream
// analytics (latency dashboards, usage accounting).
type TurnCompleted struct {
	TurnID       string `json:"turn_id"`
	SessionID    string `json:"session_id"`
	Scenario     string `json:"scenario"`
	Level        string `json:"level"`
	Voice        string `json:"voice"`
	TextLen      int    `json:"text_len"`
	AudioPresent bool   `json:"audio_present"`
	VisemeCount  int    `json:"viseme_count"`
	DurationMs   int64  `json:"duration_ms"`
	Persisted    bool   `json:"persisted"`
}

type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewPublisher connects to NATS with the reconnect behavior the rest of the
// platform uses. token may be empty.
func NewPublisher(url, token string, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Publisher{conn: nc, logger: logger}, nil
}

// PublishTurnCompleted publishes a turn-completed event. A nil receiver is a
// no-op so callers can treat the publisher as optional.
func (p *Publisher) PublishTurnCompleted(evt TurnCompleted) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("marshal turn event", "error", err)
		return
	}
	if err := p.conn.Publish(SubjectTurnCompleted, payload); err != nil {
		p.logger.Warn("publish turn event", "error", err, "session_id", evt.SessionID)
	}
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.conn.Close()
}
