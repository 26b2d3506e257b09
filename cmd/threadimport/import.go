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

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/matta/threadimport/internal/archive"
	"github.com/matta/threadimport/internal/config"
	"github.com/matta/threadimport/internal/fixture"
	"github.com/matta/threadimport/internal/gmail"
	"github.com/matta/threadimport/internal/gmailhttp"
	"github.com/matta/threadimport/internal/importer"
	"github.com/matta/threadimport/internal/tracehttp"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newImportCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Fetch messages, build threads, and store them",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runImport(cmd.Context(), cmd.OutOrStdout(), c)
		},
	}
	cmd.Flags().String("source", "", "Message source: gmail or fixture.")
	cmd.Flags().String("fixture", "", "YAML file read by the fixture source.")
	cmd.Flags().String("query", "", "GMail search query.")
	cmd.Flags().Int64("max", 0, "Stop after this many GMail messages (0 = all).")
	cmd.Flags().String("archive", "", "Also write raw messages below this directory.")
	cmd.Flags().Int("concurrency", 0, "Messages assembled at once.")
	_ = v.BindPFlag("source", cmd.Flags().Lookup("source"))
	_ = v.BindPFlag("fixture.path", cmd.Flags().Lookup("fixture"))
	_ = v.BindPFlag("gmail.query", cmd.Flags().Lookup("query"))
	_ = v.BindPFlag("gmail.max", cmd.Flags().Lookup("max"))
	_ = v.BindPFlag("archive.dir", cmd.Flags().Lookup("archive"))
	_ = v.BindPFlag("import.concurrency", cmd.Flags().Lookup("concurrency"))
	return cmd
}

func runImport(ctx context.Context, out io.Writer, c config.Config) error {
	if c.Trace {
		tracehttp.WrapDefaultTransport(os.Stderr)
	}

	db, err := openDB(ctx, c)
	if err != nil {
		return err
	}
	defer db.Close()

	src, scope, err := newSource(ctx, c)
	if err != nil {
		return err
	}

	d := importer.StoreDeps(src, db)
	d.Runs = db
	if c.ArchiveDir != "" {
		a, err := archive.New(c.ArchiveDir, scope)
		if err != nil {
			return errors.Wrap(err, "unable to initialize archive")
		}
		d.Raw = importer.TeeRaw(db, a)
	}

	run, err := importer.Import(ctx, d, importer.Options{Concurrency: c.Concurrency})
	if err != nil {
		return errors.Wrap(err, "unable to import")
	}
	fmt.Fprintf(out, "run %s: %d messages in %d threads\n", run.ID, run.Messages, run.Threads)
	return nil
}

// newSource returns the configured message source and the scope name
// used for archived files.
func newSource(ctx context.Context, c config.Config) (importer.Source, string, error) {
	switch c.Source {
	case config.SourceFixture:
		return fixture.New(c.FixturePath), "fixture", nil
	case config.SourceGmail:
		client, err := gmailhttp.New(ctx, gmailhttp.Config{
			CredentialsPath: c.GmailCredentials,
			TokenPath:       c.GmailToken,
			In:              os.Stdin,
			Out:             os.Stderr,
		})
		if err != nil {
			return nil, "", errors.Wrap(err, "unable to initialize GMail HTTP client")
		}
		s, err := gmail.New(ctx, client, gmail.Options{Query: c.GmailQuery, Max: c.GmailMax})
		if err != nil {
			return nil, "", errors.Wrap(err, "unable to initialize GMail")
		}
		profile, err := s.GetProfile(ctx)
		if err != nil {
			return nil, "", errors.Wrap(err, "unable to read GMail profile")
		}
		return s, profile.EmailAddress, nil
	}
	return nil, "", &usageError{errors.Errorf("unknown source %q", c.Source)}
}
