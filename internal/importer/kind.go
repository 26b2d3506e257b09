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

import (
	"github.com/matta/threadimport/internal/thread"

	"github.com/pkg/errors"
)

// Kind classifies an error returned by Import.
type Kind int

const (
	// KindNone means there was no error.
	KindNone Kind = iota

	// KindCollaborator means a source, store or lookup failed.  The
	// run may succeed if retried.
	KindCollaborator

	// KindUnresolvedReference means a message replied to one that
	// was not seen earlier in the batch.  Retrying the same batch
	// fails the same way.
	KindUnresolvedReference

	// KindMissingThread means a message had no thread after
	// resolution, which is a bug.
	KindMissingThread
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCollaborator:
		return "collaborator failure"
	case KindUnresolvedReference:
		return "unresolved thread reference"
	case KindMissingThread:
		return "missing thread for message"
	}
	return "unknown"
}

// KindOf classifies err.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	switch errors.Cause(err).(type) {
	case *thread.UnresolvedReferenceError:
		return KindUnresolvedReference
	case *thread.MissingThreadError:
		return KindMissingThread
	}
	return KindCollaborator
}
