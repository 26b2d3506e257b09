// Copyright 2019 Google LLC
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
	"log"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/matta/threadimport/internal/message"

	"github.com/pkg/errors"
)

var (
	createTableSql = []string{
		// The emails table holds every fetched message verbatim.
		//
		// Field: universal_id
		//
		//   The RFC 5322 Message-ID of the message, angle
		//   brackets included.
		//
		// Field: source_id
		//
		//   The identifier used by the message source, e.g. the
		//   GMail API's Users.messages resource "id" field.  Empty
		//   for sources without one.
		//
		// Field: in_reply_to
		//
		//   The universal_id of the message this one replies to.
		//   NULL for messages that start a conversation.
		//
		// Field: raw
		//
		//   The entire message in RFC 5322 form.  Empty when the
		//   source delivered headers only.
		`
CREATE TABLE IF NOT EXISTS emails (
universal_id TEXT NOT NULL PRIMARY KEY,
source_id TEXT NOT NULL,
in_reply_to TEXT,
subject TEXT NOT NULL,
sender_address TEXT NOT NULL,
date TIMESTAMP,
raw BLOB
);`,
		// The users table holds known senders.
		//
		// Field: address
		//
		//   Normalized as by address.Normalize.
		`
CREATE TABLE IF NOT EXISTS users (
id INTEGER PRIMARY KEY AUTOINCREMENT,
address TEXT NOT NULL UNIQUE,
name TEXT NOT NULL
);`,
		// The threads table holds one row per conversation.
		//
		// Field: name
		//
		//   The subject of the message that started the
		//   conversation.  Never updated.
		`
CREATE TABLE IF NOT EXISTS threads (
id INTEGER PRIMARY KEY AUTOINCREMENT,
name TEXT NOT NULL
);`,
		// The messages table links each email to its thread and,
		// when known, its sender.
		//
		// Field: sender_id
		//
		//   NULL when no user matched the sender address.
		`
CREATE TABLE IF NOT EXISTS messages (
id INTEGER PRIMARY KEY AUTOINCREMENT,
universal_id TEXT NOT NULL UNIQUE,
in_reply_to TEXT,
sender_id INTEGER,
thread_id INTEGER NOT NULL,
date TIMESTAMP,
FOREIGN KEY (universal_id) REFERENCES emails (universal_id),
FOREIGN KEY (sender_id) REFERENCES users (id),
FOREIGN KEY (thread_id) REFERENCES threads (id)
);`,
		// The import_runs table records each completed import.
		//
		// Field: history_id
		//
		//   The source's history ID when the import ran, stored
		//   with orderedToSigned.  NULL when the source has no
		//   such concept.
		`
CREATE TABLE IF NOT EXISTS import_runs (
run_id TEXT NOT NULL PRIMARY KEY,
started TIMESTAMP NOT NULL,
finished TIMESTAMP NOT NULL,
fetched INTEGER NOT NULL,
threads INTEGER NOT NULL,
messages INTEGER NOT NULL,
history_id INTEGER
);`,
	}
)

// DB is the durable store for emails, threads, messages and users.
// Each Persist method commits in its own transaction; nothing spans
// an entire import.
type DB struct {
	db *sql.DB
}

type Tx struct {
	tx *sql.Tx
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Opaque: path}
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

func Open(ctx context.Context, path string) (*DB, error) {
	// The _busy_timeout is a SQLite extension that controls how
	// long SQLite will poll before giving up.  Concurrent sender
	// lookups during an import need more than the default.
	var busyTimeout = int(5*time.Minute) / int(time.Millisecond)

	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {fmt.Sprintf("%d", busyTimeout)},
		"_foreign_keys": {"1"}})
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not form a DB DSN from "+
				"the given path",
			path)
	}
	log.Printf("opening database at %q\n", dsn)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not open database at %q",
			path, dsn)
	}

	if err = initSchema(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not initialize the "+
				"database schema", path)
	}

	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction failed")
	}
	return &Tx{tx}, nil
}

func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	for _, sql := range createTableSql {
		if _, err := db.ExecContext(ctx, sql); err != nil {
			return errors.Wrapf(err, "while executing %q", sql)
		}
	}
	return nil
}

// inTx runs fn in a new transaction, committing if fn succeeds.
func (db *DB) inTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit failed")
}

// PersistRaw stores msgs verbatim, replacing any earlier copy of the
// same universal ID.
func (db *DB) PersistRaw(ctx context.Context, msgs []message.Raw) error {
	return db.inTx(ctx, func(tx *Tx) error {
		return tx.InsertEmails(ctx, msgs)
	})
}

// PersistThreads inserts threads and sets their IDs.
func (db *DB) PersistThreads(ctx context.Context, threads []*message.Thread) error {
	return db.inTx(ctx, func(tx *Tx) error {
		return tx.InsertThreads(ctx, threads)
	})
}

// PersistMessages stores msgs, replacing any earlier message with the
// same universal ID.
func (db *DB) PersistMessages(ctx context.Context, msgs []message.Normalized) error {
	return db.inTx(ctx, func(tx *Tx) error {
		return tx.InsertMessages(ctx, msgs)
	})
}

// RecordRun stores a completed import.
func (db *DB) RecordRun(ctx context.Context, run message.Run) error {
	return db.inTx(ctx, func(tx *Tx) error {
		return tx.InsertRun(ctx, run)
	})
}

func (tx *Tx) InsertEmails(ctx context.Context, msgs []message.Raw) error {
	const sql = `INSERT INTO emails
		(universal_id, source_id, in_reply_to, subject, sender_address, date, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (universal_id)
		DO UPDATE SET (source_id, in_reply_to, subject, sender_address, date, raw) =
			($2, $3, $4, $5, $6, $7)`
	upsert, err := tx.tx.PrepareContext(ctx, sql)
	if err != nil {
		return errors.Wrap(err, "db prepare statement failed for emails upsert")
	}
	defer upsert.Close()

	for _, m := range msgs {
		if _, err := upsert.ExecContext(ctx, m.UniversalID, m.SourceID, m.InReplyTo,
			m.Subject, m.SenderAddress, m.Date, m.Body); err != nil {
			return errors.Wrapf(err, "db upsert failed for email %s", m.UniversalID)
		}
	}
	return nil
}

func (tx *Tx) InsertThreads(ctx context.Context, threads []*message.Thread) error {
	insert, err := tx.tx.PrepareContext(ctx, `INSERT INTO threads (name) VALUES ($1)`)
	if err != nil {
		return errors.Wrap(err, "db prepare statement failed for threads insert")
	}
	defer insert.Close()

	// IDs are only handed out once every row is in, so a failed
	// batch leaves no thread claiming an ID that was rolled back.
	ids := make([]int64, len(threads))
	for i, t := range threads {
		res, err := insert.ExecContext(ctx, t.Name)
		if err != nil {
			return errors.Wrapf(err, "db insert failed for thread %q", t.Name)
		}
		if ids[i], err = res.LastInsertId(); err != nil {
			return errors.Wrap(err, "reading thread ID")
		}
	}
	for i, t := range threads {
		t.ID = sql.Null[int64]{V: ids[i], Valid: true}
	}
	return nil
}

func (tx *Tx) InsertMessages(ctx context.Context, msgs []message.Normalized) error {
	const sql = `INSERT INTO messages
		(universal_id, in_reply_to, sender_id, thread_id, date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (universal_id)
		DO UPDATE SET (in_reply_to, sender_id, thread_id, date) = ($2, $3, $4, $5)`
	upsert, err := tx.tx.PrepareContext(ctx, sql)
	if err != nil {
		return errors.Wrap(err, "db prepare statement failed for messages upsert")
	}
	defer upsert.Close()

	for _, m := range msgs {
		if _, err := upsert.ExecContext(ctx, m.UniversalID, m.InReplyTo,
			m.SenderID, m.ThreadID, m.Date); err != nil {
			return errors.Wrapf(err, "db upsert failed for message %s", m.UniversalID)
		}
	}
	return nil
}

func (tx *Tx) InsertRun(ctx context.Context, run message.Run) error {
	var historyID sql.Null[int64]
	if run.HistoryID.Valid {
		historyID = sql.Null[int64]{V: orderedToSigned(run.HistoryID.V), Valid: true}
	}
	const q = `INSERT INTO import_runs
		(run_id, started, finished, fetched, threads, messages, history_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := tx.tx.ExecContext(ctx, q, run.ID, run.Started, run.Finished,
		run.Fetched, run.Threads, run.Messages, historyID)
	if err != nil {
		return errors.Wrapf(err, "db insert failed for run %s", run.ID)
	}
	return nil
}

func orderedToSigned(u uint64) int64 {
	return int64(u - -math.MinInt64) // Imagine 0..255 -> -128..127
}

func orderedToUnsigned(s int64) uint64 {
	return uint64(s) + -math.MinInt64 // Imagine -128..127 -> 0..255
}
