// Package reminder scans active medicine orders and publishes dose reminders
// shortly before each scheduled time.
package reminder

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caretrack/go-dose/internal/infrastructure/redpanda"
	"github.com/caretrack/go-dose/internal/observability/metrics"
	"github.com/caretrack/go-dose/internal/schedule"
	"github.com/caretrack/go-dose/pkg/circuitbreaker"
	"github.com/caretrack/go-dose/pkg/workerpool"
)

// PatientOrders groups one patient's active orders
type PatientOrders struct {
	PatientID string
	Orders    []schedule.MedicineOrder
}

// Source supplies the active orders to scan
type Source interface {
	ActiveOrders(ctx context.Context) ([]PatientOrders, error)
}

// Publisher sends reminder batches to the stream
type Publisher interface {
	PublishBatch(ctx context.Context, records []*redpanda.Record) error
}

// Reminder is the message published for one upcoming dose
type Reminder struct {
	PatientID     string    `json:"patient_id"`
	MedicineID    string    `json:"medicine_id"`
	MedicineName  string    `json:"medicine_name"`
	Dosage        string    `json:"dosage"`
	DoseID        string    `json:"dose_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	TimeLabel     string    `json:"time_label"`
	DispatchedAt  time.Time `json:"dispatched_at"`
}

// Config holds dispatcher configuration
type Config struct {
	// LookAhead is how far before the scheduled time a reminder fires
	LookAhead time.Duration
	// ScanInterval is how often the order set is rescanned
	ScanInterval time.Duration
	// Topic is the destination topic for reminders
	Topic string
}

// DefaultConfig returns dispatcher defaults
func DefaultConfig() Config {
	return Config{
		LookAhead:    30 * time.Minute,
		ScanInterval: time.Minute,
		Topic:        redpanda.TopicDoseReminders,
	}
}

// Dispatcher periodically expands schedules and fans reminders out
// through a worker pool, one task per patient. A circuit breaker sheds
// publishing when the broker is down, reminders are best effort and the
// next scan picks up anything still due.
type Dispatcher struct {
	source    Source
	publisher Publisher
	engine    *schedule.Engine
	pool      *workerpool.Pool
	breaker   *circuitbreaker.CircuitBreaker
	config    Config
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu   sync.Mutex
	sent map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a reminder dispatcher
func New(source Source, publisher Publisher, engine *schedule.Engine, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		source:    source,
		publisher: publisher,
		engine:    engine,
		config:    cfg,
		logger:    logger,
		sent:      make(map[string]time.Time),
		done:      make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("dose-reminders"), logger)
	if err != nil {
		return nil, err
	}
	d.breaker = breaker

	poolCfg := workerpool.DefaultConfig()
	pool, err := workerpool.New(poolCfg, d.processPatient, logger)
	if err != nil {
		return nil, err
	}
	d.pool = pool

	return d, nil
}

// WithMetrics attaches the dispatched-reminders counter
func (d *Dispatcher) WithMetrics(m *metrics.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// Start begins the scan loop
func (d *Dispatcher) Start() {
	d.pool.Start()
	go d.scanLoop()
	d.logger.Info("reminder dispatcher started",
		zap.Duration("look_ahead", d.config.LookAhead),
		zap.Duration("scan_interval", d.config.ScanInterval))
}

// Stop shuts the dispatcher down
func (d *Dispatcher) Stop() {
	d.cancel()
	<-d.done
	d.pool.Stop()
	d.logger.Info("reminder dispatcher stopped")
}

func (d *Dispatcher) scanLoop() {
	defer close(d.done)

	ticker := time.NewTicker(d.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if err := d.Scan(d.ctx, time.Now().UTC()); err != nil {
				d.logger.Error("reminder scan failed", zap.Error(err))
			}
		}
	}
}

// Scan submits one dispatch task per patient with reminders due
func (d *Dispatcher) Scan(ctx context.Context, now time.Time) error {
	patients, err := d.source.ActiveOrders(ctx)
	if err != nil {
		return err
	}

	d.pruneSent(now)

	for _, po := range patients {
		reminders := d.DueReminders(po, now)
		if len(reminders) == 0 {
			continue
		}

		task := &workerpool.Task{
			ID:      po.PatientID,
			Payload: reminders,
			Context: ctx,
		}
		if err := d.pool.Submit(task); err != nil {
			d.logger.Warn("failed to submit reminder task",
				zap.String("patient_id", po.PatientID),
				zap.Error(err))
		}
	}
	return nil
}

// DueReminders expands a patient's orders and collects the doses falling due
// within the look-ahead window. Already-recorded doses and doses reminded in
// a previous scan are skipped. Expansion failures skip only that order.
func (d *Dispatcher) DueReminders(po PatientOrders, now time.Time) []Reminder {
	var due []Reminder

	for _, order := range po.Orders {
		sched, err := d.engine.Expand(order, now)
		if err != nil {
			d.logger.Warn("cannot expand order for reminders",
				zap.String("medicine_id", order.ID),
				zap.Error(err))
			continue
		}

		for _, dose := range sched.Doses {
			if dose.Recorded || dose.Taken {
				continue
			}
			lead := dose.ScheduledTime.Sub(now)
			if lead < 0 || lead > d.config.LookAhead {
				continue
			}
			if d.alreadySent(dose.ID) {
				continue
			}

			due = append(due, Reminder{
				PatientID:     po.PatientID,
				MedicineID:    sched.MedicineID,
				MedicineName:  sched.Name,
				Dosage:        sched.Dosage,
				DoseID:        dose.ID,
				ScheduledTime: dose.ScheduledTime,
				TimeLabel:     dose.TimeLabel,
				DispatchedAt:  now,
			})
		}
	}
	return due
}

// processPatient publishes one patient's reminder batch
func (d *Dispatcher) processPatient(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	reminders, ok := task.Payload.([]Reminder)
	if !ok || len(reminders) == 0 {
		return &workerpool.Result{TaskID: task.ID, Success: true}
	}

	records := make([]*redpanda.Record, 0, len(reminders))
	for _, rem := range reminders {
		payload, err := json.Marshal(rem)
		if err != nil {
			return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
		}
		records = append(records, &redpanda.Record{
			Topic: d.config.Topic,
			Key:   rem.PatientID,
			Value: payload,
		})
	}

	_, err := d.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, d.publisher.PublishBatch(ctx, records)
	})
	if err != nil {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
	}

	d.markSent(reminders)
	if d.metrics != nil {
		d.metrics.RemindersDispatched.Add(float64(len(reminders)))
	}

	d.logger.Info("reminders dispatched",
		zap.String("patient_id", task.ID),
		zap.Int("count", len(reminders)))

	return &workerpool.Result{TaskID: task.ID, Success: true, Data: len(reminders)}
}

func (d *Dispatcher) alreadySent(doseID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.sent[doseID]
	return ok
}

func (d *Dispatcher) markSent(reminders []Reminder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rem := range reminders {
		d.sent[rem.DoseID] = rem.ScheduledTime
	}
}

// pruneSent drops dedup entries whose doses are long past, bounding memory
// across a dispatcher's lifetime.
func (d *Dispatcher) pruneSent(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, at := range d.sent {
		if at.Before(cutoff) {
			delete(d.sent, id)
		}
	}
}
