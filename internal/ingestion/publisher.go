package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpAmm/internal/engine"
	"PerpAmm/internal/event"
	"PerpAmm/internal/observability"
)

// OutboundPublisher pushes applied events to NATS for downstream consumers.
// Subjects follow perp.amm.events.{event_type}.{market}. Publishing happens
// after the engine applied the command, so a publish failure is non-fatal:
// consumers can always catch up from the event log.
type OutboundPublisher struct {
	js      jetstream.JetStream
	input   <-chan engine.Output
	metrics *observability.Metrics
	log     zerolog.Logger
}

// outboundEvent is the wire form of one envelope.
type outboundEvent struct {
	Sequence    int64           `json:"sequence"`
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	Market      string          `json:"market,omitempty"`
	BlockNumber int64           `json:"block_number"`
	Payload     json.RawMessage `json:"payload"`
	StateHash   string          `json:"state_hash"`
	PrevHash    string          `json:"prev_hash"`
	Timestamp   time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, input <-chan engine.Output, metrics *observability.Metrics, log zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{js: js, input: input, metrics: metrics, log: log}
}

// Run publishes until the context is cancelled or the channel closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.input:
			if !ok {
				return nil
			}
			for _, env := range out.Envelopes {
				if err := op.publish(ctx, env); err != nil {
					op.log.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
					if op.metrics != nil {
						op.metrics.PublishDrops.Inc()
					}
					continue
				}
				if op.metrics != nil {
					op.metrics.EventsPublished.WithLabelValues(env.Type.String()).Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(outboundEvent{
		Sequence:    env.Sequence,
		EventID:     env.EventID.String(),
		EventType:   env.Type.String(),
		Market:      env.Market,
		BlockNumber: env.BlockNumber,
		Payload:     json.RawMessage(env.Payload),
		StateHash:   hex.EncodeToString(env.StateHash[:]),
		PrevHash:    hex.EncodeToString(env.PrevHash[:]),
		Timestamp:   env.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("perp.amm.events.%s", env.Type)
	if env.Market != "" {
		subject = fmt.Sprintf("%s.%s", subject, env.Market)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureEventStream creates the outbound events stream.
func EnsureEventStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PERP_AMM_EVENTS",
		Subjects:  []string{"perp.amm.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
