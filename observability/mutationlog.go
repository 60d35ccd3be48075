// Package observability records scene mutations to an SQLite audit log.
//
// The scene itself stays volatile — the log records that mutations happened
// (type, element ID, counts), it never reconstructs scene state. Persistence
// is async and non-blocking: buffer overflow drops rows rather than applying
// backpressure to the canvas event loop.
package observability

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/maretko/drawbridge/idgen"
	"github.com/maretko/drawbridge/scene"
)

// Schema is the DDL for the mutation log table. Pass it to dbopen.WithSchema
// or apply it with Init.
const Schema = `
CREATE TABLE IF NOT EXISTS scene_mutation_log (
    entry_id       TEXT PRIMARY KEY,
    event_type     TEXT NOT NULL,
    element_id     TEXT NOT NULL DEFAULT '',
    element_type   TEXT NOT NULL DEFAULT '',
    elements_count INTEGER NOT NULL DEFAULT 0,
    timestamp      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mutation_log_time
    ON scene_mutation_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_mutation_log_type_time
    ON scene_mutation_log(event_type, timestamp DESC);
`

// Init applies the mutation log schema.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

type row struct {
	eventType     string
	elementID     string
	elementType   string
	elementsCount int
	timestamp     int64
}

// MutationLog buffers scene mutation rows and flushes them to SQLite in
// batches of up to 64, once per second, same pattern as the rest of the
// async persistence in this repo.
type MutationLog struct {
	db    *sql.DB
	newID idgen.Generator
	ch    chan row
	done  chan struct{}
	once  sync.Once
}

// MutationLogOption configures a MutationLog.
type MutationLogOption func(*MutationLog)

// WithIDGenerator sets a custom generator for log entry IDs.
func WithIDGenerator(gen idgen.Generator) MutationLogOption {
	return func(l *MutationLog) { l.newID = gen }
}

// NewMutationLog creates a log writing to db and starts its flush goroutine.
// Callers must Close to drain the buffer.
func NewMutationLog(db *sql.DB, opts ...MutationLogOption) *MutationLog {
	l := &MutationLog{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
		ch:    make(chan row, 1024),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Record queues a mutation event for async persistence. Non-blocking; drops
// if the buffer is full. Safe to call from the store's event sink.
func (l *MutationLog) Record(ev scene.Event) {
	r := row{eventType: string(ev.Type), timestamp: time.Now().UnixMilli()}
	switch {
	case ev.Element != nil:
		r.elementID = ev.Element.ID
		r.elementType = ev.Element.Type
		r.elementsCount = 1
	case ev.Elements != nil:
		r.elementsCount = len(ev.Elements)
	case ev.ID != "":
		r.elementID = ev.ID
	}
	select {
	case l.ch <- r:
	default:
	}
}

// Close drains the buffer and stops the flush goroutine.
func (l *MutationLog) Close() error {
	l.once.Do(func() {
		close(l.ch)
		<-l.done
	})
	return nil
}

func (l *MutationLog) flushLoop() {
	defer close(l.done)

	batch := make([]row, 0, 64)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-l.ch:
			if !ok {
				l.flush(batch)
				return
			}
			batch = append(batch, r)
			if len(batch) >= 64 {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (l *MutationLog) flush(batch []row) {
	if len(batch) == 0 {
		return
	}
	tx, err := l.db.Begin()
	if err != nil {
		slog.Error("mutation log: begin", "error", err)
		return
	}
	stmt, err := tx.Prepare(`
		INSERT INTO scene_mutation_log
			(entry_id, event_type, element_id, element_type, elements_count, timestamp)
		VALUES (?,?,?,?,?,?)`)
	if err != nil {
		slog.Error("mutation log: prepare", "error", err)
		tx.Rollback()
		return
	}
	for _, r := range batch {
		if _, err := stmt.Exec(l.newID(), r.eventType, r.elementID, r.elementType, r.elementsCount, r.timestamp); err != nil {
			slog.Error("mutation log: insert", "error", err, "event_type", r.eventType)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		slog.Error("mutation log: commit", "error", err)
	}
}
