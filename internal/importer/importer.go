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

// Package importer runs one import: fetch a batch of messages, store
// them verbatim, group them into threads, resolve their senders, and
// store the result.
package importer

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/matta/threadimport/internal/message"
	"github.com/matta/threadimport/internal/thread"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 8

// Deps names the collaborators of an import.  Raw, Threads, Users and
// Messages are often the same value.
type Deps struct {
	Source   Source
	Raw      RawSink
	Threads  thread.ThreadSink
	Users    thread.Directory
	Messages MessageSink

	// Runs is optional.
	Runs RunRecorder
}

// StoreDeps returns Deps that use s for all persistence.
func StoreDeps(src Source, s Store) Deps {
	return Deps{Source: src, Raw: s, Threads: s, Users: s, Messages: s}
}

type Options struct {
	// Concurrency bounds the number of messages assembled at once.
	// Zero means DefaultConcurrency.
	Concurrency int
}

// Import performs one complete import run.  It either finishes every
// step or returns the first error; work already committed by earlier
// steps, such as threads, is not undone.  Use KindOf to classify the
// error.
func Import(ctx context.Context, d Deps, opts Options) (*message.Run, error) {
	run := &message.Run{ID: uuid.NewString(), Started: time.Now()}
	log.Printf("import %s: starting", run.ID)

	if p, ok := d.Source.(Profiler); ok {
		profile, err := p.GetProfile(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "unable to get source profile")
		}
		log.Println("Import at History ID", profile.HistoryID, "for", profile.EmailAddress)
		run.HistoryID = sql.Null[uint64]{V: profile.HistoryID, Valid: true}
	}

	msgs, err := fetch(ctx, d)
	if err != nil {
		return nil, err
	}
	run.Fetched = len(msgs)

	threads, err := thread.Resolve(ctx, msgs, d.Threads)
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve threads")
	}
	run.Threads = countThreads(threads)
	log.Printf("import %s: resolved %d messages into %d threads", run.ID, len(msgs), run.Threads)

	normalized, err := assembleAll(ctx, msgs, threads, d.Users, opts.Concurrency)
	if err != nil {
		return nil, errors.Wrap(err, "unable to assemble messages")
	}

	if err := d.Messages.PersistMessages(ctx, normalized); err != nil {
		return nil, errors.Wrap(err, "unable to persist messages")
	}
	run.Messages = len(normalized)
	run.Finished = time.Now()

	if d.Runs != nil {
		if err := d.Runs.RecordRun(ctx, *run); err != nil {
			return nil, errors.Wrap(err, "unable to record import run")
		}
	}
	log.Printf("import %s: done; fetched %d, threads %d, messages %d",
		run.ID, run.Fetched, run.Threads, run.Messages)
	return run, nil
}

func fetch(ctx context.Context, d Deps) ([]message.Raw, error) {
	msgs, err := d.Source.Fetch(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "unable to fetch messages")
	}
	log.Printf("fetched %d messages", len(msgs))
	if err := d.Raw.PersistRaw(ctx, msgs); err != nil {
		return nil, errors.Wrap(err, "unable to persist fetched messages")
	}
	return msgs, nil
}

// assembleAll assembles msgs concurrently.  The result is in the same
// order as msgs.
func assembleAll(ctx context.Context, msgs []message.Raw, threads thread.Map, users thread.Directory, concurrency int) ([]message.Normalized, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	out := make([]message.Normalized, len(msgs))

	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(concurrency)
	for i := range msgs {
		grp.Go(func() error {
			m, err := thread.Assemble(ctx, msgs[i], threads, users)
			if err != nil {
				return err
			}
			out[i] = m
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func countThreads(threads thread.Map) int {
	seen := make(map[*message.Thread]bool)
	for _, t := range threads {
		seen[t] = true
	}
	return len(seen)
}
