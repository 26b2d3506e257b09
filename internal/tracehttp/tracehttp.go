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

// Package tracehttp dumps HTTP traffic for debugging.
package tracehttp

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"sync"
)

// traceTransport is an http.RoundTripper that writes the request and
// response to w while delegating the real work to another
// http.RoundTripper.
type traceTransport struct {
	delegate http.RoundTripper

	mu sync.Mutex
	w  io.Writer
}

// RoundTrip writes a dump of the request and response while
// delegating the round trip to the delegate.  Credentials are
// redacted from the dump.
func (t *traceTransport) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	dump, dumpErr := httputil.DumpRequestOut(req, true)
	if dumpErr == nil {
		t.print(dump)
	}
	resp, err = t.delegate.RoundTrip(req)
	if err == nil {
		dump, dumpErr = httputil.DumpResponse(resp, true)
		if dumpErr == nil {
			t.print(dump)
		}
	}
	return resp, err
}

func (t *traceTransport) print(dump []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, string(redact(dump)))
}

var secretHeaders = [][]byte{
	[]byte("Authorization:"),
	[]byte("X-Goog-Api-Key:"),
}

// redact blanks the values of headers that carry credentials.
func redact(dump []byte) []byte {
	lines := bytes.Split(dump, []byte("\n"))
	for i, line := range lines {
		for _, h := range secretHeaders {
			if len(line) >= len(h) && bytes.EqualFold(line[:len(h)], h) {
				lines[i] = append(append([]byte{}, line[:len(h)]...), []byte(" REDACTED\r")...)
			}
		}
	}
	return bytes.Join(lines, []byte("\n"))
}

// Wrap returns a RoundTripper that traces d's traffic to w.
func Wrap(d http.RoundTripper, w io.Writer) http.RoundTripper {
	return &traceTransport{delegate: d, w: w}
}

// WrapDefaultTransport injects tracing into http.DefaultTransport.
func WrapDefaultTransport(w io.Writer) {
	http.DefaultTransport = Wrap(http.DefaultTransport, w)
}
