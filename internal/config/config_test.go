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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matta/threadimport/internal/gmail"

	"github.com/spf13/viper"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	t.Setenv("HOME", "/home/tester")
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

func TestDefaults(t *testing.T) {
	c, err := Load(newViper(t))
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	want := Config{
		DB:               "/home/tester/.threadimport.db",
		Source:           SourceGmail,
		GmailCredentials: "/home/tester/.config/threadimport/client_secret.json",
		GmailToken:       "/home/tester/.config/threadimport/token.json",
		GmailQuery:       gmail.DefaultQuery,
		Concurrency:      8,
	}
	if c != want {
		t.Errorf("Load() = %+v, want %+v", c, want)
	}
}

func TestEnvironment(t *testing.T) {
	v := newViper(t)
	t.Setenv("THREADIMPORT_SOURCE", "fixture")
	t.Setenv("THREADIMPORT_FIXTURE_PATH", "/tmp/emails.yaml")
	t.Setenv("THREADIMPORT_IMPORT_CONCURRENCY", "3")
	c, err := Load(v)
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if c.Source != SourceFixture || c.FixturePath != "/tmp/emails.yaml" || c.Concurrency != 3 {
		t.Errorf("Load() = %+v, want fixture source at /tmp/emails.yaml with concurrency 3", c)
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := "db: /data/mail.db\nsource: fixture\nfixture:\n  path: emails.yaml\narchive:\n  dir: /data/archive\n"
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatal(err)
	}
	v := newViper(t)
	if err := ReadFile(v, path); err != nil {
		t.Fatalf("ReadFile() = %v, want nil", err)
	}
	c, err := Load(v)
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if c.DB != "/data/mail.db" || c.ArchiveDir != "/data/archive" || c.FixturePath != "emails.yaml" {
		t.Errorf("Load() = %+v, want values from %s", c, path)
	}

	if err := ReadFile(viper.New(), ""); err != nil {
		t.Errorf(`ReadFile("") = %v, want nil`, err)
	}
	if err := ReadFile(viper.New(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("ReadFile(missing) = nil, want error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		set  map[string]any
		want string
	}{
		{"unknown source", map[string]any{"source": "imap"}, "unknown source"},
		{"fixture without path", map[string]any{"source": "fixture"}, "fixture.path"},
		{"zero concurrency", map[string]any{"import.concurrency": 0}, "concurrency"},
		{"negative max", map[string]any{"gmail.max": -1}, "gmail.max"},
		{"empty db", map[string]any{"db": " "}, "db path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newViper(t)
			for k, val := range tc.set {
				v.Set(k, val)
			}
			_, err := Load(v)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Load() = %v, want error mentioning %q", err, tc.want)
			}
		})
	}
}
