// Package journal provides a write-mostly SQLite diagnostics journal of
// health snapshots, failure insights, lifecycle events and warnings.
// Nothing in it is ever restored into a live population.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/davehusk/millennium-qecc/internal/ipc"
	"github.com/davehusk/millennium-qecc/internal/klog"
	"github.com/davehusk/millennium-qecc/internal/population"
)

// Journal wraps a SQLite connection.
type Journal struct {
	conn *sqlx.DB
}

// Open opens or creates a journal at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Journal, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One writer; also keeps ":memory:" to a single database.
	conn.SetMaxOpenConns(1)

	j := &Journal{conn: conn}
	if err := j.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.conn.Close()
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at INTEGER NOT NULL,
		total_agents INTEGER NOT NULL,
		total_energy REAL NOT NULL,
		pool REAL NOT NULL,
		tasks_processed INTEGER NOT NULL,
		agents_created INTEGER NOT NULL,
		uptime_ms INTEGER NOT NULL,
		insights_count INTEGER NOT NULL,
		axiom_compliance INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS insights (
		seq INTEGER NOT NULL,
		agent_id TEXT NOT NULL,
		error_type TEXT NOT NULL,
		message TEXT NOT NULL,
		task TEXT NOT NULL,
		context_json TEXT NOT NULL,
		energy REAL NOT NULL,
		ts INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		source TEXT NOT NULL,
		payload TEXT NOT NULL,
		ts INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		level TEXT NOT NULL,
		component TEXT NOT NULL,
		message TEXT NOT NULL,
		fields_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_topic ON events(topic);
	CREATE INDEX IF NOT EXISTS idx_insights_agent ON insights(agent_id);
	`
	_, err := j.conn.Exec(schema)
	return err
}

// Snapshot is a stored health snapshot.
type Snapshot struct {
	ID              int64   `db:"id"`
	TakenAt         int64   `db:"taken_at"` // unix millis
	TotalAgents     int     `db:"total_agents"`
	TotalEnergy     float64 `db:"total_energy"`
	Pool            float64 `db:"pool"`
	TasksProcessed  int64   `db:"tasks_processed"`
	AgentsCreated   int64   `db:"agents_created"`
	UptimeMs        int64   `db:"uptime_ms"`
	InsightsCount   int     `db:"insights_count"`
	AxiomCompliance bool    `db:"axiom_compliance"`
}

// EventRow is a stored lifecycle event.
type EventRow struct {
	ID      int64  `db:"id"`
	Topic   string `db:"topic"`
	Source  string `db:"source"`
	Payload string `db:"payload"`
	TS      int64  `db:"ts"`
}

// RecordSnapshot stores a health snapshot.
func (j *Journal) RecordSnapshot(ctx context.Context, h population.Health) error {
	row := Snapshot{
		TakenAt:         time.Now().UnixMilli(),
		TotalAgents:     h.TotalAgents,
		TotalEnergy:     h.TotalEnergy,
		Pool:            h.Pool,
		TasksProcessed:  int64(h.TasksProcessed),
		AgentsCreated:   int64(h.AgentsCreated),
		UptimeMs:        h.Uptime.Milliseconds(),
		InsightsCount:   h.InsightsCount,
		AxiomCompliance: h.AxiomCompliance,
	}
	_, err := j.conn.NamedExecContext(ctx, `INSERT INTO snapshots
		(taken_at, total_agents, total_energy, pool, tasks_processed,
		 agents_created, uptime_ms, insights_count, axiom_compliance)
		VALUES (:taken_at, :total_agents, :total_energy, :pool, :tasks_processed,
		 :agents_created, :uptime_ms, :insights_count, :axiom_compliance)`, row)
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	return nil
}

// RecordInsight stores a failure insight.
func (j *Journal) RecordInsight(ctx context.Context, in population.Insight) error {
	ctxJSON, _ := json.Marshal(in.Context)
	_, err := j.conn.ExecContext(ctx, `INSERT INTO insights
		(seq, agent_id, error_type, message, task, context_json, energy, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(in.Seq), in.AgentID, in.ErrorType, in.Message, in.Task,
		string(ctxJSON), in.EnergyAtFailure, in.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("record insight: %w", err)
	}
	return nil
}

// RecordEvent stores a lifecycle event.
func (j *Journal) RecordEvent(ctx context.Context, ev ipc.Event) error {
	_, err := j.conn.ExecContext(ctx,
		"INSERT INTO events (topic, source, payload, ts) VALUES (?, ?, ?, ?)",
		ev.Topic, ev.Source, string(ev.Payload), ev.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// RecordLog implements klog.Sink. Failures are dropped: logging them would
// feed back into the sink.
func (j *Journal) RecordLog(ts time.Time, level, component, message string, fields map[string]string) {
	fieldsJSON, _ := json.Marshal(fields)
	_, _ = j.conn.Exec(
		"INSERT INTO logs (ts, level, component, message, fields_json) VALUES (?, ?, ?, ?, ?)",
		ts.UnixMilli(), level, component, message, string(fieldsJSON))
}

var _ klog.Sink = (*Journal)(nil)

// Follow copies insights and lifecycle events into the journal until ctx
// is cancelled or both sources are closed. Blocks.
func (j *Journal) Follow(ctx context.Context, insights *population.InsightLog, bus *ipc.EventBus) {
	log := klog.For("journal")

	inCh := insights.Subscribe(64)
	defer insights.Unsubscribe(inCh)

	topics := ipc.AllTopics()
	evCh := bus.SubscribeAll(topics, 64)
	defer bus.UnsubscribeAll(topics, evCh)

	// Writes use a context detached from ctx so the last batch still lands
	// while shutting down.
	wctx := context.WithoutCancel(ctx)
	for inCh != nil || evCh != nil {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-inCh:
			if !ok {
				inCh = nil
				continue
			}
			if err := j.RecordInsight(wctx, in); err != nil {
				log.Debug("insight not journaled", "seq", in.Seq, "error", err)
			}
		case ev, ok := <-evCh:
			if !ok {
				evCh = nil
				continue
			}
			if err := j.RecordEvent(wctx, ev); err != nil {
				log.Debug("event not journaled", "topic", ev.Topic, "error", err)
			}
		}
	}
}

// Snapshots returns the most recent snapshots, newest first.
func (j *Journal) Snapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	var rows []Snapshot
	err := j.conn.SelectContext(ctx, &rows,
		"SELECT * FROM snapshots ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	return rows, nil
}

// Events returns the most recent events for topic, newest first.
// An empty topic matches all.
func (j *Journal) Events(ctx context.Context, topic string, limit int) ([]EventRow, error) {
	var rows []EventRow
	var err error
	if topic == "" {
		err = j.conn.SelectContext(ctx, &rows,
			"SELECT id, topic, source, payload, ts FROM events ORDER BY id DESC LIMIT ?", limit)
	} else {
		err = j.conn.SelectContext(ctx, &rows,
			"SELECT id, topic, source, payload, ts FROM events WHERE topic = ? ORDER BY id DESC LIMIT ?", topic, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return rows, nil
}

// Counts returns the number of rows per table.
func (j *Journal) Counts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, table := range []string{"snapshots", "insights", "events", "logs"} {
		var n int
		if err := j.conn.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
