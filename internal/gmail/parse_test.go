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
	"database/sql"
	"testing"
	"time"

	"github.com/matta/threadimport/internal/message"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestFirstMsgID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"<a@b>", "<a@b>"},
		{"  <a@b> <c@d>", "<a@b>"},
		{"a@b", "<a@b>"},
		{"<broken", ""},
		{"(comment) <a@b>", "<a@b>"},
	}
	for _, tc := range cases {
		if got := firstMsgID(tc.in); got != tc.want {
			t.Errorf("firstMsgID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseRaw(t *testing.T) {
	raw := []byte("Message-ID: <2@mail.example.com>\r\n" +
		"In-Reply-To: <1@mail.example.com>\r\n" +
		"From: =?UTF-8?Q?Ren=C3=A9e?= <renee@example.com>\r\n" +
		"Subject: =?UTF-8?Q?Re:_Caf=C3=A9?=\r\n" +
		"Date: Mon, 04 Mar 2024 10:30:00 +0100\r\n" +
		"\r\n" +
		"body\r\n")
	got, err := parseRaw("18e0", raw)
	if err != nil {
		t.Fatalf("parseRaw() = %v, want nil", err)
	}
	want := &message.Raw{
		UniversalID:   "<2@mail.example.com>",
		InReplyTo:     sql.Null[string]{V: "<1@mail.example.com>", Valid: true},
		Subject:       "Re: Café",
		SenderAddress: "Renée <renee@example.com>",
		Date:          time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC),
		SourceID:      "18e0",
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(message.Raw{}, "Body")); diff != "" {
		t.Errorf("parseRaw() mismatch (-want +got):\n%s", diff)
	}
	if string(got.Body) != string(raw) {
		t.Errorf("parseRaw().Body = %q, want the raw message", got.Body)
	}
}

func TestParseRawWithoutMessageID(t *testing.T) {
	got, err := parseRaw("18e1", []byte("Subject: hi\r\n\r\n"))
	if err != nil {
		t.Fatalf("parseRaw() = %v, want nil", err)
	}
	if got.UniversalID != "<18e1@mail.gmail.com>" {
		t.Errorf("parseRaw().UniversalID = %q, want %q", got.UniversalID, "<18e1@mail.gmail.com>")
	}
	if got.InReplyTo.Valid || !got.Date.IsZero() {
		t.Errorf("parseRaw() = %+v, want no reply and no date", got)
	}
}

func TestDecodeRaw(t *testing.T) {
	for _, in := range []string{"aGk_", "aGk-Pw==", "aGk-Pw"} {
		if _, err := decodeRaw(in); err != nil {
			t.Errorf("decodeRaw(%q) = %v, want nil", in, err)
		}
	}
}
