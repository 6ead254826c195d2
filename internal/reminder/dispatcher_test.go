package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/caretrack/go-dose/internal/infrastructure/redpanda"
	"github.com/caretrack/go-dose/internal/schedule"
)

type fakeSource struct {
	patients []PatientOrders
	err      error
}

func (f *fakeSource) ActiveOrders(ctx context.Context) ([]PatientOrders, error) {
	return f.patients, f.err
}

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]*redpanda.Record
	err     error
}

func (f *fakePublisher) PublishBatch(ctx context.Context, records []*redpanda.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, records)
	return nil
}

func (f *fakePublisher) records() []*redpanda.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*redpanda.Record
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

func testOrder(id string, day time.Time) schedule.MedicineOrder {
	return schedule.MedicineOrder{
		ID:             id,
		Name:           "Amoxicillin",
		Dosage:         "250mg",
		Frequency:      "twice a day",
		Timing:         []string{"morning", "night"},
		PrescribedDate: day,
		Duration:       schedule.DateRange{Start: day, End: day},
	}
}

func newTestDispatcher(t *testing.T, src Source, pub Publisher) *Dispatcher {
	t.Helper()
	cfg := DefaultConfig()
	d, err := New(src, pub, schedule.NewEngine(zap.NewNop()), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestDueRemindersWindow(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	po := PatientOrders{
		PatientID: "pat-1",
		Orders:    []schedule.MedicineOrder{testOrder("med-1", day)},
	}
	d := newTestDispatcher(t, &fakeSource{}, &fakePublisher{})

	// 07:45, fifteen minutes before the 08:00 morning dose
	now := day.Add(7*time.Hour + 45*time.Minute)
	due := d.DueReminders(po, now)
	if len(due) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(due))
	}
	rem := due[0]
	if rem.PatientID != "pat-1" || rem.MedicineID != "med-1" {
		t.Errorf("wrong reminder identity: %+v", rem)
	}
	if rem.TimeLabel != "Morning" {
		t.Errorf("expected morning label, got %q", rem.TimeLabel)
	}
	want := day.Add(8 * time.Hour)
	if !rem.ScheduledTime.Equal(want) {
		t.Errorf("scheduled time %v, want %v", rem.ScheduledTime, want)
	}

	// Mid-day, nothing due within 30 minutes
	if due := d.DueReminders(po, day.Add(12*time.Hour)); len(due) != 0 {
		t.Errorf("expected no reminders mid-day, got %d", len(due))
	}

	// Past doses never remind
	if due := d.DueReminders(po, day.Add(9*time.Hour)); len(due) != 0 {
		t.Errorf("expected no reminders for past dose, got %d", len(due))
	}
}

func TestDueRemindersSkipsRecorded(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	order := testOrder("med-1", day)
	order.Adherence = []schedule.AdherenceEntry{
		{ID: "e1", Timestamp: day.Add(8 * time.Hour), Taken: true},
	}
	po := PatientOrders{PatientID: "pat-1", Orders: []schedule.MedicineOrder{order}}
	d := newTestDispatcher(t, &fakeSource{}, &fakePublisher{})

	// recorded entry at exactly 08:00 absorbs the morning dose
	due := d.DueReminders(po, day.Add(7*time.Hour+45*time.Minute))
	if len(due) != 0 {
		t.Fatalf("expected recorded dose to be skipped, got %d reminders", len(due))
	}
}

func TestScanPublishesAndDedupes(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{patients: []PatientOrders{
		{PatientID: "pat-1", Orders: []schedule.MedicineOrder{testOrder("med-1", day)}},
	}}
	pub := &fakePublisher{}
	d := newTestDispatcher(t, src, pub)
	d.pool.Start()
	defer d.pool.Stop()

	now := day.Add(7*time.Hour + 45*time.Minute)
	if err := d.Scan(context.Background(), now); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	waitFor(t, func() bool { return len(pub.records()) == 1 })

	rec := pub.records()[0]
	if rec.Topic != redpanda.TopicDoseReminders {
		t.Errorf("topic %q, want %q", rec.Topic, redpanda.TopicDoseReminders)
	}
	if rec.Key != "pat-1" {
		t.Errorf("key %q, want patient id", rec.Key)
	}
	var rem Reminder
	if err := json.Unmarshal(rec.Value, &rem); err != nil {
		t.Fatalf("unmarshal reminder: %v", err)
	}
	if rem.MedicineName != "Amoxicillin" || rem.Dosage != "250mg" {
		t.Errorf("unexpected reminder payload: %+v", rem)
	}

	// Second scan in the same window must not re-send
	if err := d.Scan(context.Background(), now.Add(time.Minute)); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := len(pub.records()); got != 1 {
		t.Errorf("expected dedup to hold at 1 record, got %d", got)
	}
}

func TestScanSourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}
	d := newTestDispatcher(t, src, &fakePublisher{})
	if err := d.Scan(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error from source")
	}
}

func TestPruneSent(t *testing.T) {
	d := newTestDispatcher(t, &fakeSource{}, &fakePublisher{})
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	d.sent["old"] = now.Add(-48 * time.Hour)
	d.sent["recent"] = now.Add(-time.Hour)
	d.pruneSent(now)
	if _, ok := d.sent["old"]; ok {
		t.Error("expected stale entry to be pruned")
	}
	if _, ok := d.sent["recent"]; !ok {
		t.Error("expected recent entry to survive")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
