package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DeliveryRecord is one sink delivery outcome for the reporting surface.
type DeliveryRecord struct {
	TenantID string    `db:"tenant_id"`
	EventID  string    `db:"event_id"`
	Kind     string    `db:"kind"`
	Target   string    `db:"target"`
	SinkKind string    `db:"sink_kind"`
	Outcome  string    `db:"outcome"` // delivered | failed
	Attempts int       `db:"attempts"`
	Error    string    `db:"error"`
	At       time.Time `db:"at"`
}

const deliveryLogSchema = `
CREATE TABLE IF NOT EXISTS sink_deliveries (
    tenant_id String,
    event_id  String,
    kind      String,
    target    String,
    sink_kind String,
    outcome   String,
    attempts  UInt8,
    error     String,
    at        DateTime64(3)
) ENGINE = MergeTree()
ORDER BY (tenant_id, at)
TTL toDateTime(at) + INTERVAL 30 DAY
`

// DeliveryLog writes delivery outcomes to ClickHouse in size/time-based
// batches. Record never blocks the dispatcher: when the buffer is full the
// row is dropped with a log line, the authoritative signal stays the
// delivery.failed event.
type DeliveryLog struct {
	db        *sqlx.DB
	in        chan DeliveryRecord
	batchSize int
	batchWait time.Duration
	log       *zap.Logger
}

func NewDeliveryLog(db *sqlx.DB, log *zap.Logger) *DeliveryLog {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeliveryLog{
		db:        db,
		in:        make(chan DeliveryRecord, 1024),
		batchSize: 200,
		batchWait: time.Second,
		log:       log,
	}
}

// Record queues one row for the next flush.
func (l *DeliveryLog) Record(r DeliveryRecord) {
	select {
	case l.in <- r:
	default:
		l.log.Warn("delivery log buffer full, dropping row",
			zap.String("tenant", r.TenantID), zap.String("event", r.EventID))
	}
}

// Run creates the table and flushes batches until ctx is cancelled.
func (l *DeliveryLog) Run(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, deliveryLogSchema); err != nil {
		return err
	}

	tick := time.NewTicker(l.batchWait)
	defer tick.Stop()

	batch := make([]DeliveryRecord, 0, l.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.insert(batch); err != nil {
			l.log.Error("delivery log flush failed", zap.Int("rows", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil
		case r := <-l.in:
			batch = append(batch, r)
			if len(batch) >= l.batchSize {
				flush()
			}
		case <-tick.C:
			flush()
		}
	}
}

func (l *DeliveryLog) insert(rows []DeliveryRecord) error {
	_, err := l.db.NamedExec(
		`INSERT INTO sink_deliveries
		 (tenant_id, event_id, kind, target, sink_kind, outcome, attempts, error, at)
		 VALUES (:tenant_id, :event_id, :kind, :target, :sink_kind, :outcome, :attempts, :error, :at)`,
		rows)
	return err
}
