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

// Package archive keeps a copy of every fetched message as a file in a
// two level directory farm, one file per message.
package archive

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matta/threadimport/internal/message"

	"github.com/pkg/errors"
)

const (
	dirFileMode     = 0700
	messageFileMode = 0600

	pathFarm16 = "abcdefghijklmnop"
)

// Archive writes raw messages below a root directory.  It satisfies
// importer.RawSink.
type Archive struct {
	root string

	// Names the mailbox the messages came from; part of every file
	// name so several mailboxes can share a root.
	scope string
}

type path struct {
	root string
	dirs []string
	base string
}

func (p path) Join() string {
	parts := make([]string, 1, len(p.dirs)+2)
	parts[0] = p.root
	parts = append(parts, p.dirs...)
	parts = append(parts, p.base)
	return filepath.Join(parts...)
}

// New returns an Archive rooted at root, creating the directory farm
// if needed.
func New(root, scope string) (*Archive, error) {
	if root == "" {
		return nil, errors.New("archive root is empty")
	}
	if err := os.MkdirAll(filepath.Dir(filepath.Clean(root)), dirFileMode); err != nil {
		return nil, errors.Wrapf(err, "creating parent of %s", root)
	}
	if err := mkdirfarm(root, 2); err != nil {
		return nil, errors.Wrapf(err, "creating directory farm at %s", root)
	}
	return &Archive{root: root, scope: scope}, nil
}

// Path returns where the message with the given UniversalID is kept.
func (a *Archive) Path(universalID string) string {
	return a.makePath(universalID).Join()
}

// HaveMessage reports whether the message is already archived.
func (a *Archive) HaveMessage(universalID string) bool {
	_, err := os.Stat(a.Path(universalID))
	return err == nil
}

// PersistRaw writes each message that carries a body.  Messages
// without one, and messages already archived, are skipped.
func (a *Archive) PersistRaw(ctx context.Context, msgs []message.Raw) error {
	written := 0
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(m.Body) == 0 || a.HaveMessage(m.UniversalID) {
			continue
		}
		if err := a.insert(m); err != nil {
			return errors.Wrapf(err, "archiving %s", m.UniversalID)
		}
		written++
	}
	log.Printf("archived %d of %d messages under %s", written, len(msgs), a.root)
	return nil
}

func (a *Archive) insert(m message.Raw) error {
	if m.UniversalID == "" {
		return errors.New("message has no ID")
	}
	p := a.makePath(m.UniversalID)

	// Mail sources deliver \r\n line endings as RFC 5322 mandates;
	// files on disk use \n.
	raw := strings.ReplaceAll(string(m.Body), "\r\n", "\n")
	return writeFileAtomic(p.Join(), []byte(raw), messageFileMode)
}

// writeFileAtomic writes data next to name and renames it into place,
// so readers never see a partial message.
func writeFileAtomic(name string, data []byte, perm os.FileMode) (err error) {
	tmp := filepath.Join(filepath.Dir(name),
		fmt.Sprintf(".%s.tmp-%d", filepath.Base(name), time.Now().UnixNano()))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()
	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, name)
}

// basename holds the fields encoded into the file name of an archived
// message.
type basename struct {
	// The mailbox under which the id is unique, e.g. the user's
	// login.
	scope string

	// The message's UniversalID.
	id string
}

// Return the specified string with characters that should not appear
// in a file name escaped.
func escape(s string) string {
	hexCount := 0
	for i := 0; i < len(s); i++ {
		if shouldEscape(s[i]) {
			hexCount++
		}
	}

	if hexCount == 0 {
		return s
	}

	t := make([]byte, len(s)+2*hexCount)
	j := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case shouldEscape(c):
			t[j] = '='
			t[j+1] = "0123456789ABCDEF"[c>>4]
			t[j+2] = "0123456789ABCDEF"[c&15]
			j += 3
		default:
			t[j] = s[i]
			j++
		}
	}
	return string(t)
}

// Return true if the specified character should be escaped when
// appearing in a file name.
//
// Based on the Portable Filename Character Set (IEEE Std 1003.1-2017,
// 3.282) with all punctuation removed, leaving only alphanumeric
// characters.
func shouldEscape(c byte) bool {
	return !('A' <= c && c <= 'Z' || 'a' <= c && c <= 'z' || '0' <= c && c <= '9')
}

// encode returns the basename in a file name safe form, prefixed with
// "threadimport-1-" to mark the encoding version.
func (b basename) encode() string {
	var sb strings.Builder
	const prefix = "threadimport-1-"
	sb.Grow(len(prefix) + len(b.scope) + len(b.id) + 1)
	sb.WriteString(prefix)
	sb.WriteString(escape(b.scope))
	sb.WriteRune('-')
	sb.WriteString(escape(b.id))
	return sb.String()
}

func mkdir(dir string) error {
	if err := os.Mkdir(dir, dirFileMode); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

func mkdirfarm(path string, depth int) error {
	if err := mkdir(path); err != nil {
		return err
	}
	if depth == 0 {
		return nil
	}

	for i := 0; i < len(pathFarm16); i++ {
		path := filepath.Join(path, pathFarm16[i:i+1])
		if err := mkdirfarm(path, depth-1); err != nil {
			return err
		}
	}
	return nil
}

func fingerprint(b []byte) uint32 {
	hash := fnv.New32a()
	hash.Write(b)
	return hash.Sum32()
}

func pathParts(id string) []string {
	fp := fingerprint([]byte(id))
	nibble1 := fp & 0xf
	nibble2 := (fp >> 4) & 0xf
	return []string{pathFarm16[nibble1 : nibble1+1], pathFarm16[nibble2 : nibble2+1]}
}

func (a *Archive) makePath(id string) path {
	return path{
		root: a.root,
		dirs: pathParts(id),
		base: basename{scope: a.scope, id: id}.encode(),
	}
}
