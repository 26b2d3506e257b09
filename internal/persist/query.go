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

	"github.com/matta/threadimport/internal/address"
	"github.com/matta/threadimport/internal/message"

	"github.com/pkg/errors"
)

// FindByAddress returns the user whose address matches addr after
// normalization.  The boolean is false when there is no such user.
func (db *DB) FindByAddress(ctx context.Context, addr string) (message.User, bool, error) {
	const q = `SELECT id, address, name FROM users WHERE address = $1`
	var u message.User
	err := db.db.QueryRowContext(ctx, q, address.Normalize(addr)).Scan(&u.ID, &u.Address, &u.Name)
	if err == sql.ErrNoRows {
		return message.User{}, false, nil // a non-error
	}
	if err != nil {
		return message.User{}, false, errors.Wrapf(err, "db lookup failed for user %q", addr)
	}
	return u, true, nil
}

// ErrInvalidAddress is the cause of AddUser errors for addresses that
// normalize to nothing.
var ErrInvalidAddress = errors.New("invalid address")

// AddUser stores a user, or renames the existing user with the same
// normalized address.
func (db *DB) AddUser(ctx context.Context, addr, name string) (message.User, error) {
	norm := address.Normalize(addr)
	if norm == "" {
		return message.User{}, errors.Wrapf(ErrInvalidAddress, "adding user %q", addr)
	}
	const q = `INSERT INTO users (address, name) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET name = $2
		RETURNING id`
	u := message.User{Address: norm, Name: name}
	if err := db.db.QueryRowContext(ctx, q, norm, name).Scan(&u.ID); err != nil {
		return message.User{}, errors.Wrapf(err, "db upsert failed for user %q", norm)
	}
	return u, nil
}

// Threads returns all threads in creation order.
func (db *DB) Threads(ctx context.Context) ([]message.Thread, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT id, name FROM threads ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "db query failed in Threads")
	}
	defer rows.Close()

	var out []message.Thread
	for rows.Next() {
		var t message.Thread
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, errors.Wrap(err, "db scan failed in Threads")
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "db iteration failed in Threads")
}

// Messages returns all normalized messages in insertion order.
func (db *DB) Messages(ctx context.Context) ([]message.Normalized, error) {
	const q = `
SELECT universal_id, in_reply_to, sender_id, thread_id, date
FROM messages
ORDER BY id
`
	rows, err := db.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "db query failed in Messages")
	}
	defer rows.Close()

	var out []message.Normalized
	for rows.Next() {
		var m message.Normalized
		if err := rows.Scan(&m.UniversalID, &m.InReplyTo, &m.SenderID, &m.ThreadID, &m.Date); err != nil {
			return nil, errors.Wrap(err, "db scan failed in Messages")
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "db iteration failed in Messages")
}

// CountEmails returns the number of raw emails stored.
func (db *DB) CountEmails(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`).Scan(&n)
	return n, errors.Wrap(err, "db count failed for emails")
}

// Runs returns recorded imports, most recent first.
func (db *DB) Runs(ctx context.Context) ([]message.Run, error) {
	const q = `
SELECT run_id, started, finished, fetched, threads, messages, history_id
FROM import_runs
ORDER BY started DESC
`
	rows, err := db.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "db query failed in Runs")
	}
	defer rows.Close()

	var out []message.Run
	for rows.Next() {
		var r message.Run
		var historyID sql.Null[int64]
		if err := rows.Scan(&r.ID, &r.Started, &r.Finished, &r.Fetched,
			&r.Threads, &r.Messages, &historyID); err != nil {
			return nil, errors.Wrap(err, "db scan failed in Runs")
		}
		if historyID.Valid {
			r.HistoryID = sql.Null[uint64]{V: orderedToUnsigned(historyID.V), Valid: true}
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "db iteration failed in Runs")
}
