package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpAmm/internal/fixed"
	"PerpAmm/internal/observability"
	"PerpAmm/internal/oracle"
)

// PriceSubscriber consumes index prices from NATS JetStream and feeds the
// per-market oracle feeds. Subjects follow perp.prices.{market}; prices
// arrive as JSON with decimal strings.
type PriceSubscriber struct {
	js        jetstream.JetStream
	feeds     map[string]*oracle.Feed
	metrics   *observability.Metrics
	log       zerolog.Logger
	consumers []jetstream.ConsumeContext
}

// PriceUpdate is the wire form of one index price observation.
type PriceUpdate struct {
	Market    string    `json:"market"`
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

func NewPriceSubscriber(js jetstream.JetStream, feeds map[string]*oracle.Feed, metrics *observability.Metrics, log zerolog.Logger) *PriceSubscriber {
	return &PriceSubscriber{js: js, feeds: feeds, metrics: metrics, log: log}
}

// Subscribe creates a durable consumer on the prices stream. Messages for
// unknown markets are acked and dropped; malformed messages are acked so
// they are not redelivered forever.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, "PERP_PRICES", jetstream.ConsumerConfig{
		Durable:       "perpamm-prices",
		FilterSubject: "perp.prices.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := ps.handle(msg.Data()); err != nil {
			ps.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("bad price update")
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}

	ps.consumers = append(ps.consumers, cc)
	ps.log.Info().Msg("subscribed to perp.prices.>")
	return nil
}

func (ps *PriceSubscriber) handle(data []byte) error {
	var update PriceUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return fmt.Errorf("decode price update: %w", err)
	}

	feed, ok := ps.feeds[update.Market]
	if !ok {
		return nil
	}
	price, err := fixed.FromStr(update.Price)
	if err != nil {
		return fmt.Errorf("parse price %q: %w", update.Price, err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s", update.Price)
	}

	feed.Update(price, update.Timestamp)
	if ps.metrics != nil {
		ps.metrics.OracleUpdates.WithLabelValues(update.Market).Inc()
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ps *PriceSubscriber) Stop() {
	for _, cc := range ps.consumers {
		cc.Stop()
	}
}

// EnsurePriceStream creates the inbound prices stream.
func EnsurePriceStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PERP_PRICES",
		Subjects:  []string{"perp.prices.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create price stream: %w", err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, metrics *observability.Metrics, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
			if metrics != nil {
				metrics.NATSReconnects.Inc()
			}
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
