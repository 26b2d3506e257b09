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
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/api/option"
)

// fakeGmail serves the subset of the GMail API used by Fetch.  Raw
// messages are keyed by GMail id; list returns them in map-independent
// order given by ids.
type fakeGmail struct {
	ids  []string
	raw  map[string]string
	chat map[string]bool

	// Milliseconds since the epoch, served as internalDate.
	received map[string]int64

	profileCalls atomic.Int32
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const prefix = "/gmail/v1/users/me/"
	path := strings.TrimPrefix(r.URL.Path, prefix)
	w.Header().Set("Content-Type", "application/json")
	switch {
	case path == "profile":
		f.profileCalls.Add(1)
		fmt.Fprint(w, `{"emailAddress":"me@example.com","historyId":"987"}`)
	case path == "messages":
		type ref struct {
			ID       string `json:"id"`
			ThreadID string `json:"threadId"`
		}
		var refs []ref
		for _, id := range f.ids {
			refs = append(refs, ref{ID: id, ThreadID: "t"})
		}
		json.NewEncoder(w).Encode(map[string]any{"messages": refs})
	case strings.HasPrefix(path, "messages/"):
		id := strings.TrimPrefix(path, "messages/")
		raw, ok := f.raw[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":404,"message":"Not Found","errors":[{"reason":"notFound"}]}}`)
			return
		}
		labels := []string{"INBOX"}
		if f.chat[id] {
			labels = []string{"CHAT"}
		}
		resp := map[string]any{
			"id":       id,
			"threadId": "t",
			"labelIds": labels,
			"raw":      base64.URLEncoding.EncodeToString([]byte(raw)),
		}
		if ms, ok := f.received[id]; ok {
			resp["internalDate"] = fmt.Sprint(ms)
		}
		json.NewEncoder(w).Encode(resp)
	default:
		http.NotFound(w, r)
	}
}

func newTestService(t *testing.T, f *fakeGmail) *GmailService {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	s, err := New(context.Background(), srv.Client(), Options{},
		option.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New() = %v, want nil", err)
	}
	return s
}

func TestFetch(t *testing.T) {
	f := &fakeGmail{
		// GMail lists newest first.
		ids: []string{"m3", "gone", "m2", "chat", "m1"},
		raw: map[string]string{
			"m1":   "Message-ID: <1@x>\r\nSubject: Plans\r\nFrom: a@x\r\nDate: Mon, 04 Mar 2024 09:00:00 +0000\r\n\r\nhi\r\n",
			"m2":   "Message-ID: <2@x>\r\nIn-Reply-To: <1@x>\r\nSubject: Re: Plans\r\nFrom: b@x\r\nDate: Mon, 04 Mar 2024 10:00:00 +0000\r\n\r\nok\r\n",
			"m3":   "Message-ID: <3@x>\r\nIn-Reply-To: <2@x>\r\nSubject: Re: Plans\r\nFrom: a@x\r\nDate: Mon, 04 Mar 2024 11:00:00 +0000\r\n\r\ngood\r\n",
			"chat": "Message-ID: <c@x>\r\nSubject: chat\r\n\r\n",
		},
		chat: map[string]bool{"chat": true},
	}
	s := newTestService(t, f)

	msgs, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() = %v, want nil", err)
	}
	var got []string
	for _, m := range msgs {
		got = append(got, m.SourceID+" "+m.UniversalID)
	}
	want := []string{"m1 <1@x>", "m2 <2@x>", "m3 <3@x>"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Fetch() mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchDuplicateMessageID(t *testing.T) {
	const root = "Message-ID: <1@x>\r\nSubject: Plans\r\nFrom: a@x\r\nDate: Mon, 04 Mar 2024 09:00:00 +0000\r\n\r\nhi\r\n"
	f := &fakeGmail{
		ids: []string{"m3", "m1b", "m2", "m1"},
		raw: map[string]string{
			"m1":  root,
			"m2":  "Message-ID: <2@x>\r\nIn-Reply-To: <1@x>\r\nSubject: Re: Plans\r\nFrom: b@x\r\nDate: Mon, 04 Mar 2024 10:00:00 +0000\r\n\r\nok\r\n",
			"m1b": root,
			"m3":  "Message-ID: <3@x>\r\nIn-Reply-To: <1@x>\r\nSubject: Re: Plans\r\nFrom: c@x\r\nDate: Mon, 04 Mar 2024 11:00:00 +0000\r\n\r\nme too\r\n",
		},
	}
	s := newTestService(t, f)

	msgs, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() = %v, want nil", err)
	}
	var got []string
	for _, m := range msgs {
		got = append(got, m.UniversalID)
	}
	want := []string{"<1@x>", "<2@x>", "<3@x>"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Fetch() mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchMalformedDate(t *testing.T) {
	f := &fakeGmail{
		ids: []string{"m2", "m1"},
		raw: map[string]string{
			"m1": "Message-ID: <1@x>\r\nSubject: Plans\r\nFrom: a@x\r\nDate: Mon, 04 Mar 2024 09:00:00 +0000\r\n\r\nhi\r\n",
			"m2": "Message-ID: <2@x>\r\nIn-Reply-To: <1@x>\r\nSubject: Re: Plans\r\nFrom: b@x\r\nDate: 4 March 2024 10am\r\n\r\nok\r\n",
		},
		received: map[string]int64{
			"m1": time.Date(2024, 3, 4, 9, 0, 5, 0, time.UTC).UnixMilli(),
			"m2": time.Date(2024, 3, 4, 10, 0, 5, 0, time.UTC).UnixMilli(),
		},
	}
	s := newTestService(t, f)

	msgs, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() = %v, want nil", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Fetch() returned %d messages, want 2", len(msgs))
	}
	if msgs[0].UniversalID != "<1@x>" || msgs[1].UniversalID != "<2@x>" {
		t.Errorf("Fetch() order = [%s %s], want [<1@x> <2@x>]", msgs[0].UniversalID, msgs[1].UniversalID)
	}
	if want := time.Date(2024, 3, 4, 10, 0, 5, 0, time.UTC); !msgs[1].Date.Equal(want) {
		t.Errorf("Fetch() date of <2@x> = %v, want %v", msgs[1].Date, want)
	}
}

func TestFetchMax(t *testing.T) {
	f := &fakeGmail{
		ids: []string{"m1", "m2"},
		raw: map[string]string{
			"m1": "Message-ID: <1@x>\r\n\r\n",
			"m2": "Message-ID: <2@x>\r\n\r\n",
		},
	}
	s := newTestService(t, f)
	s.opts.Max = 1
	msgs, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() = %v, want nil", err)
	}
	if len(msgs) != 1 {
		t.Errorf("Fetch() returned %d messages, want 1", len(msgs))
	}
}

func TestGetProfile(t *testing.T) {
	s := newTestService(t, &fakeGmail{})
	p, err := s.GetProfile(context.Background())
	if err != nil {
		t.Fatalf("GetProfile() = %v, want nil", err)
	}
	if p.EmailAddress != "me@example.com" || p.HistoryID != 987 {
		t.Errorf("GetProfile() = %+v, want me@example.com at 987", p)
	}
}

func TestGetProfileAsksOnce(t *testing.T) {
	f := &fakeGmail{}
	s := newTestService(t, f)
	for i := 0; i < 3; i++ {
		if _, err := s.GetProfile(context.Background()); err != nil {
			t.Fatalf("GetProfile() call %d = %v, want nil", i, err)
		}
	}
	if n := f.profileCalls.Load(); n != 1 {
		t.Errorf("profile requests = %d, want 1", n)
	}
}
