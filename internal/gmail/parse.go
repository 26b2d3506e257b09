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

package gmail

import (
	"bytes"
	"database/sql"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"

	"github.com/matta/threadimport/internal/message"

	"github.com/pkg/errors"
)

var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		// Only utf-8 and us-ascii are decoded; pass anything else
		// through so the subject is at least present.
		return input, nil
	},
}

// parseRaw extracts the threading headers from an RFC 5322 message.
// A message without a Message-ID gets one derived from its GMail id.
func parseRaw(gmailID string, raw []byte) (*message.Raw, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "reading message headers")
	}
	h := msg.Header

	m := &message.Raw{
		UniversalID:   firstMsgID(h.Get("Message-Id")),
		Subject:       decodeHeader(h.Get("Subject")),
		SenderAddress: decodeHeader(h.Get("From")),
		SourceID:      gmailID,
		Body:          raw,
	}
	if m.UniversalID == "" {
		m.UniversalID = fmt.Sprintf("<%s@mail.gmail.com>", gmailID)
	}
	if r := firstMsgID(h.Get("In-Reply-To")); r != "" {
		m.InReplyTo = sql.Null[string]{V: r, Valid: true}
	}
	if d, err := h.Date(); err == nil {
		m.Date = d.UTC()
	}
	return m, nil
}

// firstMsgID returns the first <...> token of a msg-id header, or the
// trimmed value when it carries no angle brackets.
func firstMsgID(v string) string {
	v = strings.TrimSpace(v)
	start := strings.IndexByte(v, '<')
	if start < 0 {
		if f := strings.Fields(v); len(f) > 0 {
			return "<" + f[0] + ">"
		}
		return ""
	}
	end := strings.IndexByte(v[start:], '>')
	if end < 0 {
		return ""
	}
	return v[start : start+end+1]
}

func decodeHeader(v string) string {
	d, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return d
}
