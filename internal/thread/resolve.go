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

// Package thread groups messages into conversations by following
// their in-reply-to references.
package thread

import (
	"context"
	"fmt"

	"github.com/matta/threadimport/internal/message"

	"github.com/pkg/errors"
)

// Map maps a message's UniversalID to the thread it belongs to.  It is
// built by one call to Resolve and must not be modified afterwards.
type Map map[string]*message.Thread

// ThreadSink persists threads.  PersistThreads must set the ID of
// every thread before returning.
type ThreadSink interface {
	PersistThreads(ctx context.Context, threads []*message.Thread) error
}

// UnresolvedReferenceError reports a reply whose target has not been
// resolved by the time the reply is reached.
type UnresolvedReferenceError struct {
	UniversalID string
	InReplyTo   string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("message %s replies to %s, which has no thread",
		e.UniversalID, e.InReplyTo)
}

// Resolve assigns every message in msgs to a thread, creating and
// persisting a thread for each message that does not reply to
// another.
//
// A reply's target must appear earlier in msgs.  Threads are created
// in order; each one is persisted through sink before any later
// message is looked at.  When a reply's target is unknown Resolve
// stops and returns an *UnresolvedReferenceError; threads persisted
// up to that point stay persisted.
func Resolve(ctx context.Context, msgs []message.Raw, sink ThreadSink) (Map, error) {
	threads := make(Map, len(msgs))
	for _, m := range msgs {
		if !m.InReplyTo.Valid {
			t, err := create(ctx, sink, m)
			if err != nil {
				return nil, err
			}
			threads[m.UniversalID] = t
			continue
		}

		// Every resolved message points at its root's thread, so a
		// single lookup covers replies of any depth.
		t, ok := threads[m.InReplyTo.V]
		if !ok {
			return nil, &UnresolvedReferenceError{
				UniversalID: m.UniversalID,
				InReplyTo:   m.InReplyTo.V,
			}
		}
		threads[m.UniversalID] = t
	}
	return threads, nil
}

func create(ctx context.Context, sink ThreadSink, root message.Raw) (*message.Thread, error) {
	t := message.NewThread(root)
	if err := sink.PersistThreads(ctx, []*message.Thread{t}); err != nil {
		return nil, errors.Wrapf(err, "persisting thread for %s", root.UniversalID)
	}
	if !t.ID.Valid {
		return nil, errors.Errorf("thread for %s was persisted without an ID", root.UniversalID)
	}
	return t, nil
}
