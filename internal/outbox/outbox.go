// Package outbox implements the transactional outbox pattern (§4.5, §6):
// StopEvents are written to a durable outbox row in the same transaction
// as the event itself, and a separate publisher worker drains that table
// to redis pub/sub. go-redis is the only pub/sub-capable client anywhere
// in the retrieved example pack (DimaJoyti-ai-agentic-crypto-browser);
// no AMQP/NATS/Kafka client exists in the pack, so it stands in for the
// message bus spec.md leaves unspecified rather than inventing a stub.
package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/riskforge/engine/internal/store"
	"github.com/riskforge/engine/internal/telemetry"
)

// Writer enqueues outbox rows inside an ambient transaction; it satisfies
// stopmonitor.OutboxWriter without stopmonitor importing this package
// (avoiding a cycle, since the orchestrator wires both against store.DB).
type Writer struct {
	db *store.DB
}

func NewWriter(db *store.DB) *Writer {
	return &Writer{db: db}
}

func (w *Writer) EnqueueInTx(tx *sql.Tx, eventID, routingKey string, payload []byte) error {
	_, err := tx.Exec(`
		INSERT INTO outbox (outbox_id, event_id, routing_key, exchange_name, payload, published)
		VALUES (?,?,?,?,?,0)
	`, uuid.NewString(), eventID, routingKey, "", string(payload))
	if err == nil {
		telemetry.OutboxUnpublished.Inc()
	}
	return err
}

// PollInterval is how often the publisher worker sweeps for unpublished rows.
const PollInterval = 2 * time.Second

// BatchSize bounds how many rows one sweep publishes.
const BatchSize = 100

// Publisher drains unpublished outbox rows into redis pub/sub, one
// channel per routing key, retrying failures on the next sweep.
type Publisher struct {
	DB     *store.DB
	Client *redis.Client
}

func NewPublisher(db *store.DB, addr string) *Publisher {
	return &Publisher{DB: db, Client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Run sweeps until ctx is cancelled, the same "poll a table, publish,
// mark done" shape SynapseStrike's background jobs use for periodic work.
func (p *Publisher) Run(ctx context.Context) error {
	log := telemetry.NewLogger("outbox")
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rows, err := p.DB.Outbox.ListUnpublished(BatchSize)
			if err != nil {
				log.Error().Err(err).Msg("list unpublished outbox rows")
				continue
			}
			for _, row := range rows {
				if err := p.Client.Publish(ctx, row.RoutingKey, row.Payload).Err(); err != nil {
					log.Warn().Err(err).Str("routing_key", row.RoutingKey).Msg("publish failed, will retry")
					_ = p.DB.Outbox.MarkFailed(row.OutboxID, err.Error())
					continue
				}
				if err := p.DB.Outbox.MarkPublished(row.OutboxID); err != nil {
					log.Error().Err(err).Str("outbox_id", row.OutboxID).Msg("mark published")
				}
			}
		}
	}
}
