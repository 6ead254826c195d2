package medicine

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/caretrack/go-dose/internal/infrastructure/postgres"
)

// Repository provides event sourcing persistence for medicine orders.
// When an outbox topic mapping is configured, each persisted event also
// writes a matching outbox entry in the same transaction, so downstream
// consumers see exactly the committed history.
type Repository struct {
	pool         *pgxpool.Pool
	logger       *zap.Logger
	outboxTopics map[EventType]string
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// WithOutboxTopics configures which event types are published via the
// transactional outbox and to which topic.
func (r *Repository) WithOutboxTopics(topics map[EventType]string) *Repository {
	r.outboxTopics = topics
	return r
}

// Save persists new events for an aggregate
func (r *Repository) Save(ctx context.Context, agg *Aggregate) error {
	if len(agg.Changes()) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, event := range agg.Changes() {
		event.Version = agg.Version() - len(agg.Changes()) + i + 1
		if err := r.insertEvent(ctx, tx, event); err != nil {
			return err
		}
		if topic, ok := r.outboxTopics[event.EventType]; ok {
			entry := &postgres.OutboxEntry{
				AggregateID:   event.AggregateID,
				AggregateType: event.AggregateType,
				EventType:     string(event.EventType),
				Payload:       event.EventData,
				Topic:         topic,
				Key:           event.AggregateID,
			}
			if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	agg.ClearChanges()
	return nil
}

func (r *Repository) insertEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	query := `
		INSERT INTO medicine_events
		(aggregate_id, event_type, event_data, version, patient_id, recorded_by, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Exec(ctx, query,
		event.AggregateID,
		event.EventType,
		event.EventData,
		event.Version,
		event.PatientID,
		event.RecordedBy,
		event.CorrelationID,
	)
	return err
}

// Load retrieves an aggregate by ID
func (r *Repository) Load(ctx context.Context, id string) (*Aggregate, error) {
	events, err := r.GetEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("medicine order not found: %s", id)
	}

	agg := NewAggregate(id)
	agg.LoadFromHistory(events)
	return agg, nil
}

// GetEvents retrieves all events for an aggregate
func (r *Repository) GetEvents(ctx context.Context, aggregateID string) ([]*Event, error) {
	query := `
		SELECT aggregate_id, event_type, event_data, version, timestamp,
		       patient_id, recorded_by, correlation_id
		FROM medicine_events
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`

	rows, err := r.pool.Query(ctx, query, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		err := rows.Scan(
			&e.AggregateID, &e.EventType, &e.EventData, &e.Version,
			&e.Timestamp, &e.PatientID, &e.RecordedBy, &e.CorrelationID,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListByPatient returns the IDs of a patient's medicine orders, newest first.
func (r *Repository) ListByPatient(ctx context.Context, patientID string) ([]string, error) {
	query := `
		SELECT DISTINCT ON (aggregate_id) aggregate_id, timestamp
		FROM medicine_events
		WHERE patient_id = $1 AND event_type = $2
		ORDER BY aggregate_id, timestamp DESC
	`

	rows, err := r.pool.Query(ctx, query, patientID, EventOrderCreated)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var ts time.Time
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListPatients returns every patient with at least one medicine order.
// The reminder dispatcher scans this set on each tick.
func (r *Repository) ListPatients(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT patient_id
		FROM medicine_events
		WHERE event_type = $1 AND patient_id <> ''
	`

	rows, err := r.pool.Query(ctx, query, EventOrderCreated)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadByPatient loads all of a patient's medicine order aggregates. A load
// failure on one order is logged and skipped so the rest of the list renders.
func (r *Repository) LoadByPatient(ctx context.Context, patientID string) ([]*Aggregate, error) {
	ids, err := r.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	aggs := make([]*Aggregate, 0, len(ids))
	for _, id := range ids {
		agg, err := r.Load(ctx, id)
		if err != nil {
			r.logger.Warn("skipping unloadable medicine order",
				zap.String("order_id", id),
				zap.Error(err))
			continue
		}
		aggs = append(aggs, agg)
	}
	return aggs, nil
}
