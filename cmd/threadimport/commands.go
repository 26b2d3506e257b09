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
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/matta/threadimport/internal/message"
	"github.com/matta/threadimport/internal/persist"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newThreadsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List threads and the messages in each",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := loadConfig(v)
			if err != nil {
				return err
			}
			db, err := openDB(ctx, c)
			if err != nil {
				return err
			}
			defer db.Close()

			threads, err := db.Threads(ctx)
			if err != nil {
				return err
			}
			msgs, err := db.Messages(ctx)
			if err != nil {
				return err
			}
			return printThreads(cmd.OutOrStdout(), threads, msgs)
		},
	}
}

func printThreads(w io.Writer, threads []message.Thread, msgs []message.Normalized) error {
	byThread := make(map[int64][]message.Normalized)
	for _, m := range msgs {
		byThread[m.ThreadID] = append(byThread[m.ThreadID], m)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, t := range threads {
		members := byThread[t.ID.V]
		fmt.Fprintf(tw, "%d\t%s\t(%d messages)\n", t.ID.V, t.Name, len(members))
		for _, m := range members {
			sender := "-"
			if m.SenderID.Valid {
				sender = fmt.Sprintf("user %d", m.SenderID.V)
			}
			fmt.Fprintf(tw, "\t%s\t%s\n", m.UniversalID, sender)
		}
	}
	return tw.Flush()
}

func newRunsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List completed imports",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := loadConfig(v)
			if err != nil {
				return err
			}
			db, err := openDB(ctx, c)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.Runs(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tFINISHED\tFETCHED\tTHREADS\tMESSAGES\tHISTORY")
			for _, r := range runs {
				history := "-"
				if r.HistoryID.Valid {
					history = fmt.Sprint(r.HistoryID.V)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", r.ID,
					r.Finished.Format("2006-01-02 15:04:05"), r.Fetched, r.Threads, r.Messages, history)
			}
			return tw.Flush()
		},
	}
}

func newUserCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage known senders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add ADDRESS NAME",
		Short: "Add a sender, or rename an existing one",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := loadConfig(v)
			if err != nil {
				return err
			}
			db, err := openDB(ctx, c)
			if err != nil {
				return err
			}
			defer db.Close()

			u, err := db.AddUser(ctx, args[0], args[1])
			if errors.Cause(err) == persist.ErrInvalidAddress {
				return &usageError{err}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d: %s <%s>\n", u.ID, u.Name, u.Address)
			return nil
		},
	})
	return cmd
}
