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

// The threadimport command imports a mailbox into a local SQLite
// database, grouping messages into threads and linking them to known
// senders.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/matta/threadimport/internal/config"
	"github.com/matta/threadimport/internal/importer"
	"github.com/matta/threadimport/internal/persist"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "github.com/mattn/go-sqlite3"
)

// Exit codes.  Scripts use them to decide whether a retry may help.
const (
	exitSuccess             = 0
	exitFailure             = 1
	exitUsage               = 2
	exitUnresolvedReference = 3
	exitMissingThread       = 4
)

// usageError marks errors caused by bad flags or configuration.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Cause() error  { return e.err }

// usageArgs marks argument validation failures as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &usageError{err}
		}
		return nil
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	if _, ok := err.(*usageError); ok {
		return exitUsage
	}
	switch importer.KindOf(err) {
	case importer.KindUnresolvedReference:
		return exitUnresolvedReference
	case importer.KindMissingThread:
		return exitMissingThread
	}
	return exitFailure
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "threadimport",
		Short:         "Import a mailbox and reconstruct its conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	cmd.PersistentFlags().String("db", "", "SQLite database path.")
	cmd.PersistentFlags().BoolP("trace", "T", false, "Dump HTTP traffic to stderr.")
	_ = v.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("db", cmd.PersistentFlags().Lookup("db"))
	_ = v.BindPFlag("trace", cmd.PersistentFlags().Lookup("trace"))

	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err}
	})

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := config.ReadFile(v, v.GetString("config")); err != nil {
			return &usageError{err}
		}
		return nil
	}

	cmd.AddCommand(newImportCmd(v))
	cmd.AddCommand(newThreadsCmd(v))
	cmd.AddCommand(newUserCmd(v))
	cmd.AddCommand(newRunsCmd(v))
	return cmd
}

func loadConfig(v *viper.Viper) (config.Config, error) {
	c, err := config.Load(v)
	if err != nil {
		return config.Config{}, &usageError{err}
	}
	return c, nil
}

func openDB(ctx context.Context, c config.Config) (*persist.DB, error) {
	db, err := persist.Open(ctx, c.DB)
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize database")
	}
	return db, nil
}

func main() {
	v := viper.New()
	config.SetDefaults(v)
	config.BindEnv(v)

	err := newRootCmd(v).ExecuteContext(context.Background())
	if err != nil {
		log.Printf("Failed: %v\n", err)
		os.Exit(exitCode(err))
	}
	fmt.Fprint(os.Stderr, "Success!\n")
	os.Exit(exitSuccess)
}
