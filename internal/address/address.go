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

// Package address normalizes sender addresses so that lookups match
// regardless of display names, case, or +tag suffixes.
package address

import (
	"net/mail"
	"strings"
)

// Normalize extracts the address from a From header value such as
// `"Alice" <Alice+news@Example.COM>`, lower-cases it, and strips any
// +tag from the local part.  It returns "" when no address can be
// parsed.
func Normalize(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		// Some headers carry a list; use the first parseable entry.
		for _, p := range strings.Split(from, ",") {
			if a, e := mail.ParseAddress(strings.TrimSpace(p)); e == nil {
				addr = a
				break
			}
		}
		if addr == nil {
			return ""
		}
	}

	email := strings.ToLower(strings.TrimSpace(addr.Address))
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return email
	}
	local, domain := email[:at], email[at+1:]
	if plus := strings.IndexByte(local, '+'); plus > 0 {
		local = local[:plus]
	}
	return local + "@" + domain
}
