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

// Package fixture reads a batch of messages from a YAML file.  It is
// used for demos and tests where no mail account is available.
package fixture

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"strings"
	"time"

	"github.com/matta/threadimport/internal/message"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type file struct {
	Emails []email `yaml:"emails"`
}

type email struct {
	ID        string    `yaml:"id"`
	InReplyTo string    `yaml:"in_reply_to"`
	Subject   string    `yaml:"subject"`
	From      string    `yaml:"from"`
	Date      time.Time `yaml:"date"`
	Body      string    `yaml:"body"`
}

// Source delivers the messages in one YAML file.
type Source struct {
	path string
}

func New(path string) *Source {
	return &Source{path: path}
}

// Fetch reads the file and returns its messages oldest first.
func (s *Source) Fetch(ctx context.Context) ([]message.Raw, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading fixture %s", s.path)
	}
	msgs, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing fixture %s", s.path)
	}
	return msgs, nil
}

// Parse decodes a fixture document.  Every email needs an id; ids must
// be unique.
func Parse(data []byte) ([]message.Raw, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f file
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decoding yaml")
	}

	seen := make(map[string]bool, len(f.Emails))
	msgs := make([]message.Raw, 0, len(f.Emails))
	for i, e := range f.Emails {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, errors.Errorf("email %d has no id", i)
		}
		if seen[id] {
			return nil, errors.Errorf("duplicate email id %s", id)
		}
		seen[id] = true

		m := message.Raw{
			UniversalID:   id,
			Subject:       e.Subject,
			SenderAddress: e.From,
			Date:          e.Date,
		}
		if r := strings.TrimSpace(e.InReplyTo); r != "" {
			m.InReplyTo = sql.Null[string]{V: r, Valid: true}
		}
		if e.Body != "" {
			m.Body = []byte(e.Body)
		}
		msgs = append(msgs, m)
	}
	message.SortChronological(msgs)
	return msgs, nil
}
