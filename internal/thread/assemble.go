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

package thread

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/matta/threadimport/internal/message"

	"github.com/pkg/errors"
)

// Directory looks up known senders.
type Directory interface {
	// FindByAddress returns the user with the given address.  The
	// boolean is false, with a nil error, when no user matches.
	FindByAddress(ctx context.Context, address string) (message.User, bool, error)
}

// MissingThreadError reports a message that Resolve never assigned to
// a thread.  It means Assemble was given a Map built from different
// messages.
type MissingThreadError struct {
	UniversalID string
}

func (e *MissingThreadError) Error() string {
	return fmt.Sprintf("could not retrieve thread for %s", e.UniversalID)
}

// Assemble builds the normalized form of m.  It only reads threads, so
// it may be called concurrently for different messages.
func Assemble(ctx context.Context, m message.Raw, threads Map, users Directory) (message.Normalized, error) {
	user, found, err := users.FindByAddress(ctx, m.SenderAddress)
	if err != nil {
		return message.Normalized{}, errors.Wrapf(err, "looking up sender of %s", m.UniversalID)
	}
	var senderID sql.Null[int64]
	if found {
		senderID = sql.Null[int64]{V: user.ID, Valid: true}
	}

	t, ok := threads[m.UniversalID]
	if !ok || !t.ID.Valid {
		return message.Normalized{}, &MissingThreadError{UniversalID: m.UniversalID}
	}

	return message.Normalized{
		UniversalID: m.UniversalID,
		InReplyTo:   m.InReplyTo,
		SenderID:    senderID,
		ThreadID:    t.ID.V,
		Date:        m.Date,
	}, nil
}
