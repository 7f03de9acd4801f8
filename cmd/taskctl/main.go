// Command taskctl manages the caller's tasks from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"taskboard/internal/client"
	"taskboard/internal/models"
	"taskboard/internal/stats"

	"github.com/gofrs/uuid"
	"github.com/spf13/cobra"
)

type options struct {
	baseURL  string
	token    string
	timezone string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "taskctl",
		Short:         "Manage your tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("TASKBOARD_URL", "http://localhost:8080/api"), "API base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("TASKBOARD_TOKEN"), "bearer token issued by the identity provider")
	root.PersistentFlags().StringVar(&opts.timezone, "tz", os.Getenv("STATS_TIMEZONE"), "IANA zone for week boundaries (default local)")

	root.AddCommand(
		newListCommand(opts),
		newAddCommand(opts),
		newStatusCommand(opts, "done", "Mark a task completed", models.StatusCompleted),
		newStatusCommand(opts, "undo", "Mark a task pending", models.StatusPending),
		newRemoveCommand(opts),
		newStatsCommand(opts),
	)
	return root
}

func (o *options) cache() (*client.TaskCache, error) {
	if o.token == "" {
		return nil, errors.New("no token: set TASKBOARD_TOKEN or pass --token")
	}
	loc := time.Local
	if o.timezone != "" {
		var err error
		if loc, err = time.LoadLocation(o.timezone); err != nil {
			return nil, fmt.Errorf("invalid --tz %q: %w", o.timezone, err)
		}
	}
	return client.NewTaskCache(client.New(o.baseURL, o.token), client.WithLocation(loc)), nil
}

func newListCommand(opts *options) *cobra.Command {
	var filter, search string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.token == "" {
				return errors.New("no token: set TASKBOARD_TOKEN or pass --token")
			}
			c := client.New(opts.baseURL, opts.token)
			tasks, err := c.ListTasks(cmd.Context(), client.ListOptions{Filter: filter, Search: search, Limit: limit})
			if err != nil {
				return err
			}
			printTasks(cmd, tasks)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "all", "all, pending, completed or today")
	cmd.Flags().StringVarP(&search, "search", "q", "", "case-insensitive title search")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of tasks (0 = all)")
	return cmd
}

func newAddCommand(opts *options) *cobra.Command {
	var description, due string

	cmd := &cobra.Command{
		Use:   "add TITLE",
		Short: "Create a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := opts.cache()
			if err != nil {
				return err
			}
			task, err := tc.Create(cmd.Context(), client.CreateRequest{
				Title:       args[0],
				Description: description,
				DueDate:     due,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", task.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	return cmd
}

func newStatusCommand(opts *options, use, short string, status models.TaskStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.FromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			tc, err := opts.cache()
			if err != nil {
				return err
			}
			task, err := tc.SetStatus(cmd.Context(), id, status)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", task.ID, task.Status)
			return nil
		},
	}
}

func newRemoveCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.FromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			tc, err := opts.cache()
			if err != nil {
				return err
			}
			if err := tc.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		},
	}
}

func newStatsCommand(opts *options) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show completion statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tc, err := opts.cache()
			if err != nil {
				return err
			}
			var s stats.TaskStats
			if local {
				s, err = tc.Stats(cmd.Context())
			} else {
				s, err = client.New(opts.baseURL, opts.token).Stats(cmd.Context())
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "total\t%d\n", s.Total)
			fmt.Fprintf(w, "completed\t%d\n", s.Completed)
			fmt.Fprintf(w, "pending\t%d\n", s.Pending)
			fmt.Fprintf(w, "completion rate\t%d%%\n", s.CompletionRate)
			fmt.Fprintf(w, "done this week\t%d\n", s.ThisWeek)
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "recompute from the task list instead of asking the server")
	return cmd
}

func printTasks(cmd *cobra.Command, tasks []models.Task) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tDUE\tTITLE")
	for _, t := range tasks {
		due := "-"
		if t.DueDate != nil {
			due = t.DueDate.UTC().Format(time.DateOnly)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Status, due, t.Title)
	}
	w.Flush()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
