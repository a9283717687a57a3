// Copyright 2019 Google LLC
// Copyright 2026 The mailtriage Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package persist

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/matta/mailtriage/internal/logger"
	"github.com/matta/mailtriage/internal/message"

	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

var (
	createTableSql = []string{
		// The analyzed_messages table holds one row per analyzed
		// feed message.
		//
		// Field: record_id
		//
		//   Store assigned, monotonically increasing.  Insertion
		//   order is record_id order.
		//
		// Field: message_id
		//
		//   The feed's permanent message ID (GMail API:
		//   Users.messages resource "id").  UNIQUE: a message is
		//   analyzed into at most one row.  Re-analysis deletes
		//   the old row first.
		//
		// Field: action_items_json
		//
		//   JSON array of {"description", "priority"} objects.
		//   Never NULL; "[]" when the analysis produced nothing.
		//
		// Field: suggested_reply
		//
		//   NULL when no reply was drafted.
		//
		// Field: is_replied
		//
		//   Set by the reply path, never by analysis.
		`
CREATE TABLE IF NOT EXISTS analyzed_messages (
record_id INTEGER PRIMARY KEY AUTOINCREMENT,
message_id TEXT NOT NULL UNIQUE,
sender TEXT NOT NULL,
subject TEXT NOT NULL,
body TEXT NOT NULL,
category TEXT NOT NULL,
summary TEXT NOT NULL,
sentiment TEXT NOT NULL,
urgency INTEGER NOT NULL,
suggested_reply TEXT,
action_items_json TEXT NOT NULL DEFAULT '[]',
is_replied INTEGER NOT NULL DEFAULT 0,
created_at TIMESTAMP NOT NULL
);`,
		// The knowledge table holds operator supplied business facts
		// that are embedded in every analysis prompt.
		`
CREATE TABLE IF NOT EXISTS knowledge (
knowledge_id INTEGER PRIMARY KEY AUTOINCREMENT,
topic TEXT NOT NULL,
content TEXT NOT NULL,
created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`,
		// The settings table holds at most one meaningful row; the
		// lowest settings_id wins.
		//
		// Field: hourly_rate
		//
		//   NULL when the operator never set a rate.
		`
CREATE TABLE IF NOT EXISTS settings (
settings_id INTEGER PRIMARY KEY AUTOINCREMENT,
tone TEXT NOT NULL DEFAULT 'Professional',
signature TEXT NOT NULL DEFAULT '',
hourly_rate REAL,
updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`,
	}
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ops implements the store operations over either a DB or a Tx.
type ops struct {
	q querier
}

// DB is the record store.  Its methods each run in their own implicit
// transaction; use Begin for a unit of work spanning several calls.
type DB struct {
	ops
	db  *sql.DB
	log *logger.Logger
}

// Tx is a unit of work over the record store.
type Tx struct {
	ops
	tx *sql.Tx
}

// Snapshot is a read transaction over the record store.
type Snapshot struct {
	ops
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	for k, v := range addValues {
		for _, item := range v {
			values.Add(k, item)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

func Open(ctx context.Context, path string, log *logger.Logger) (*DB, error) {
	// The _busy_timeout is a SQLite extension that controls how
	// long SQLite will poll before giving up.  Write transactions
	// never span analyzer calls, so 30 seconds is plenty.
	var busyTimeout = int(30*time.Second) / int(time.Millisecond)

	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {fmt.Sprintf("%d", busyTimeout)},
		"_journal_mode": {"WAL"},
		"_txlock":       {"immediate"},
	})
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not form a DB DSN from "+
				"the given path",
			path)
	}
	log.Info("opening database", "dsn", dsn)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not open database at %q",
			path, dsn)
	}

	if err = initSchema(ctx, db, log); err != nil {
		db.Close()
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not initialize the "+
				"database schema", path)
	}

	return &DB{ops: ops{q: db}, db: db, log: log}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction failed")
	}
	return &Tx{ops: ops{q: tx}, tx: tx}, nil
}

func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

// Update runs fn in a write transaction, committing it when fn returns
// nil and rolling it back otherwise.
func (db *DB) Update(ctx context.Context, fn func(*Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil {
			db.log.Warn("rollback failed", "error", err)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit failed")
}

// View runs fn in a deferred read transaction.  Under WAL the reader
// sees one snapshot and neither waits for nor blocks a writer, even one
// holding an immediate transaction.
func (db *DB) View(ctx context.Context, fn func(*Snapshot) error) error {
	conn, err := db.db.Conn(ctx)
	if err != nil {
		return errors.Wrap(err, "acquiring connection failed")
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "BEGIN DEFERRED"); err != nil {
		return errors.Wrap(err, "begin read transaction failed")
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK"); err != nil {
			db.log.Warn("ending read transaction failed", "error", err)
		}
	}()
	return fn(&Snapshot{ops: ops{q: conn}})
}

// Rollback aborts the unit of work.  It is safe to call after Commit.
func (tx *Tx) Rollback() error {
	err := tx.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

func initSchema(ctx context.Context, db *sql.DB, log *logger.Logger) error {
	for _, sql := range createTableSql {
		log.Debug("SQL Exec", "sql", sql)
		if _, err := db.ExecContext(ctx, sql); err != nil {
			return errors.Wrapf(err, "while executing %q", sql)
		}
	}
	return nil
}

// ExistingIDs reports which of ids already have a record, in a single
// query.
func (o ops) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(ids) == 0 {
		return found, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT message_id FROM analyzed_messages WHERE message_id IN (?` +
		strings.Repeat(",?", len(ids)-1) + `)`
	rows, err := o.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "db query failed in ExistingIDs")
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "db scan failed in ExistingIDs")
		}
		found[id] = true
	}
	return found, errors.Wrap(rows.Err(), "db iteration failed in ExistingIDs")
}

// InsertRecord stores rec and sets rec.RecordID.  Inserting a second
// record for the same MessageID fails.
func (o ops) InsertRecord(ctx context.Context, rec *message.Record) error {
	const q = `
INSERT INTO analyzed_messages
(message_id, sender, subject, body, category, summary, sentiment,
 urgency, suggested_reply, action_items_json, is_replied, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	var reply sql.NullString
	if rec.SuggestedReply != nil {
		reply = sql.NullString{String: *rec.SuggestedReply, Valid: true}
	}
	res, err := o.q.ExecContext(ctx, q,
		rec.MessageID, rec.Sender, rec.Subject, rec.Body,
		string(rec.Category), rec.Summary, string(rec.Sentiment),
		rec.Urgency, reply, rec.ActionItemsJSON, rec.IsReplied, rec.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "db insert failed for message %v", rec.MessageID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "db insert id unavailable")
	}
	rec.RecordID = id
	return nil
}

// DeleteRecord removes the record for messageID, if any.
func (o ops) DeleteRecord(ctx context.Context, messageID string) error {
	const q = `DELETE FROM analyzed_messages WHERE message_id = $1`
	if _, err := o.q.ExecContext(ctx, q, messageID); err != nil {
		return errors.Wrapf(err, "db delete failed for message %v", messageID)
	}
	return nil
}

const recordColumns = `
record_id, message_id, sender, subject, body, category, summary,
sentiment, urgency, suggested_reply, action_items_json, is_replied,
created_at`

// ListRecords returns every record in insertion order.
func (o ops) ListRecords(ctx context.Context) ([]message.Record, error) {
	q := `SELECT ` + recordColumns + ` FROM analyzed_messages ORDER BY record_id`
	rows, err := o.q.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "db query failed in ListRecords")
	}
	defer rows.Close()

	var recs []message.Record
	for rows.Next() {
		var r message.Record
		var category, sentiment string
		var reply sql.NullString
		if err := rows.Scan(&r.RecordID, &r.MessageID, &r.Sender, &r.Subject,
			&r.Body, &category, &r.Summary, &sentiment, &r.Urgency, &reply,
			&r.ActionItemsJSON, &r.IsReplied, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "db scan failed in ListRecords")
		}
		r.Category = message.Category(category)
		r.Sentiment = message.Sentiment(sentiment)
		if reply.Valid {
			s := reply.String
			r.SuggestedReply = &s
		}
		recs = append(recs, r)
	}
	return recs, errors.Wrap(rows.Err(), "db iteration failed in ListRecords")
}

// Settings returns the operator settings, or defaults when none were
// ever saved.
func (o ops) Settings(ctx context.Context) (*message.Settings, error) {
	const q = `SELECT tone, signature, hourly_rate FROM settings ORDER BY settings_id LIMIT 1`
	s := &message.Settings{Tone: "Professional"}
	var rate sql.NullFloat64
	err := o.q.QueryRowContext(ctx, q).Scan(&s.Tone, &s.Signature, &rate)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "db query failed in Settings")
	}
	if rate.Valid {
		v := rate.Float64
		s.HourlyRate = &v
	}
	return s, nil
}

// KnowledgeContext renders up to limit knowledge entries as prompt
// text.
func (o ops) KnowledgeContext(ctx context.Context, limit int) (string, error) {
	const q = `SELECT topic, content FROM knowledge ORDER BY knowledge_id LIMIT $1`
	rows, err := o.q.QueryContext(ctx, q, limit)
	if err != nil {
		return "", errors.Wrap(err, "db query failed in KnowledgeContext")
	}
	defer rows.Close()

	var sb strings.Builder
	for rows.Next() {
		var topic, content string
		if err := rows.Scan(&topic, &content); err != nil {
			return "", errors.Wrap(err, "db scan failed in KnowledgeContext")
		}
		fmt.Fprintf(&sb, "Topic: %s\nInfo: %s\n\n", topic, content)
	}
	return sb.String(), errors.Wrap(rows.Err(), "db iteration failed in KnowledgeContext")
}
