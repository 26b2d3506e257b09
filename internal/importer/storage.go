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

package importer

// This file defines the collaborators an import talks to.

import (
	"context"

	"github.com/matta/threadimport/internal/message"
	"github.com/matta/threadimport/internal/thread"
)

// Source delivers the batch of messages to import.  Replies must come
// after the message they reply to.
type Source interface {
	Fetch(ctx context.Context) ([]message.Raw, error)
}

// Profiler is implemented by sources that can report per account
// metadata.  When the Source is also a Profiler the history ID is
// recorded with the run.
type Profiler interface {
	GetProfile(ctx context.Context) (*message.Profile, error)
}

// RawSink stores fetched messages verbatim.
type RawSink interface {
	PersistRaw(ctx context.Context, msgs []message.Raw) error
}

// MessageSink stores normalized messages.
type MessageSink interface {
	PersistMessages(ctx context.Context, msgs []message.Normalized) error
}

// RunRecorder stores a summary of each completed import.
type RunRecorder interface {
	RecordRun(ctx context.Context, run message.Run) error
}

// Store provides every kind of persistence an import needs.
type Store interface {
	RawSink
	thread.ThreadSink
	thread.Directory
	MessageSink
}

// TeeRaw returns a RawSink that hands every batch to each of sinks in
// turn, stopping at the first failure.
func TeeRaw(sinks ...RawSink) RawSink {
	return teeRaw(sinks)
}

type teeRaw []RawSink

func (t teeRaw) PersistRaw(ctx context.Context, msgs []message.Raw) error {
	for _, s := range t {
		if err := s.PersistRaw(ctx, msgs); err != nil {
			return err
		}
	}
	return nil
}
