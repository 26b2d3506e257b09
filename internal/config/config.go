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

// Package config turns flags, environment and an optional config file
// into the settings of one threadimport invocation.
package config

import (
	"path/filepath"
	"strings"

	"github.com/matta/threadimport/internal/gmail"
	"github.com/matta/threadimport/internal/homedir"
	"github.com/matta/threadimport/internal/importer"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "THREADIMPORT"

const (
	SourceGmail   = "gmail"
	SourceFixture = "fixture"
)

type Config struct {
	DB     string
	Source string

	FixturePath string

	GmailCredentials string
	GmailToken       string
	GmailQuery       string
	GmailMax         int64

	// Empty disables the raw message archive.
	ArchiveDir string

	Concurrency int
	Trace       bool
}

// SetDefaults installs default values on v.  Paths default to files
// under the user's home directory.
func SetDefaults(v *viper.Viper) {
	home := homedir.Get()
	dir := filepath.Join(home, ".config", "threadimport")

	v.SetDefault("db", filepath.Join(home, ".threadimport.db"))
	v.SetDefault("source", SourceGmail)
	v.SetDefault("gmail.credentials", filepath.Join(dir, "client_secret.json"))
	v.SetDefault("gmail.token", filepath.Join(dir, "token.json"))
	v.SetDefault("gmail.query", gmail.DefaultQuery)
	v.SetDefault("gmail.max", 0)
	v.SetDefault("archive.dir", "")
	v.SetDefault("import.concurrency", importer.DefaultConcurrency)
	v.SetDefault("trace", false)
}

// BindEnv makes every key settable as THREADIMPORT_<KEY>, with dots
// replaced by underscores.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// ReadFile merges the config file at path into v.  An empty path is
// not an error.
func ReadFile(v *viper.Viper, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	return errors.Wrapf(v.ReadInConfig(), "reading config %s", path)
}

// Load returns the validated configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		DB:               strings.TrimSpace(v.GetString("db")),
		Source:           strings.ToLower(strings.TrimSpace(v.GetString("source"))),
		FixturePath:      strings.TrimSpace(v.GetString("fixture.path")),
		GmailCredentials: v.GetString("gmail.credentials"),
		GmailToken:       v.GetString("gmail.token"),
		GmailQuery:       v.GetString("gmail.query"),
		GmailMax:         v.GetInt64("gmail.max"),
		ArchiveDir:       strings.TrimSpace(v.GetString("archive.dir")),
		Concurrency:      v.GetInt("import.concurrency"),
		Trace:            v.GetBool("trace"),
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.DB == "" {
		return errors.New("db path is empty")
	}
	switch c.Source {
	case SourceGmail:
		if c.GmailCredentials == "" || c.GmailToken == "" {
			return errors.New("gmail source needs gmail.credentials and gmail.token")
		}
		if c.GmailMax < 0 {
			return errors.Errorf("gmail.max must not be negative, got %d", c.GmailMax)
		}
	case SourceFixture:
		if c.FixturePath == "" {
			return errors.New("fixture source needs fixture.path")
		}
	default:
		return errors.Errorf("unknown source %q; want %q or %q", c.Source, SourceGmail, SourceFixture)
	}
	if c.Concurrency < 1 {
		return errors.Errorf("import.concurrency must be at least 1, got %d", c.Concurrency)
	}
	return nil
}
