package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"saasloader/internal/domain"
	"saasloader/internal/service"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <task>...",
		Short: "Run tasks now, one after another",
		Long:  "Runs each named task once and records it in the run history. Every task is attempted; the command fails if any of them failed.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			failed := 0
			for _, id := range args {
				run, err := a.tasks.RunTask(ctx, id, service.TriggerManual)
				if run == nil {
					// Unknown task or already running: nothing was recorded.
					fmt.Fprintf(out, "%s\t%s\n", id, err)
					failed++
					continue
				}
				printRun(out, run)
				if err != nil {
					failed++
				}
				if ctx.Err() != nil {
					break
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d tasks failed", failed, len(args))
			}
			return nil
		},
	}
}

func printRun(w io.Writer, run *domain.TaskRun) {
	fmt.Fprintf(w, "%s\t%s\tread=%d written=%d\t%s\n",
		run.TaskID, run.Status, run.RowsRead, run.RowsWritten, run.Duration().Round(time.Millisecond))
	if run.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", run.Error)
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured tasks with their last status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(output); err != nil {
				return err
			}
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.tasks.ListTasks()
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), tasks)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TASK\tOPERATOR\tTRIGGER\tLAST STATUS\tLAST RUN")
			for _, t := range tasks {
				status, lastRun := "-", "-"
				if t.Status != nil && t.Status.LastStatus != "" {
					status = t.Status.LastStatus
					lastRun = t.Status.LastRunAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Operator, triggerOf(t.Schedule, t.Watch), status, lastRun)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func triggerOf(schedule string, watch []string) string {
	switch {
	case schedule != "" && len(watch) > 0:
		return "cron " + schedule + " + watch"
	case schedule != "":
		return "cron " + schedule
	case len(watch) > 0:
		return "watch"
	default:
		return "manual"
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		output string
	)
	cmd := &cobra.Command{
		Use:   "history [task]",
		Short: "Show recent runs, newest first",
		Long:  "Shows the run history of one task, or of every task when none is named.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutputFormat(output); err != nil {
				return err
			}
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			taskID := ""
			if len(args) == 1 {
				taskID = args[0]
			}
			runs, err := a.tasks.ListRuns(taskID, limit)
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), runs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tTASK\tTRIGGER\tSTATUS\tREAD\tWRITTEN\tDURATION\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					r.StartedAt.Local().Format(time.DateTime), r.TaskID, r.Trigger, r.Status,
					r.RowsRead, r.RowsWritten, r.Duration().Round(time.Millisecond), firstLine(r.Error))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to show")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var checkConns bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config file without running anything",
		Long: `Parses the config, checks connections and tasks, builds every task's operator from its params and parses every schedule.

With --check-connections every database connection is also opened and pinged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			// No state DB needed; the service only builds operators here.
			svc := service.NewTaskService(service.Options{
				Config:    cfg,
				Store:     noStore{},
				Logger:    logger,
				Resources: func() service.RunResources { return nil },
			})
			if err := svc.Validate(); err != nil {
				errs := flattenErrors(err)
				fmt.Fprintf(cmd.ErrOrStderr(), "Configuration has %d validation error(s):\n", len(errs))
				for _, e := range errs {
					fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", e)
				}
				return errors.New("configuration is invalid")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %d connections, %d tasks.\n", len(cfg.Connections), len(cfg.Tasks))

			if !checkConns {
				return nil
			}
			if err := cfg.ResolveSecrets(secretStore()); err != nil {
				return err
			}
			failed := 0
			for _, c := range svc.CheckConnections(cmd.Context()) {
				switch {
				case c.Skipped:
					fmt.Fprintf(cmd.OutOrStdout(), "  skip  %s (%s)\n", c.ID, c.Type)
				case c.OK:
					fmt.Fprintf(cmd.OutOrStdout(), "  ok    %s (%s)\n", c.ID, c.Type)
				default:
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "  FAIL  %s (%s): %s\n", c.ID, c.Type, c.Error)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d connection(s) unreachable", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkConns, "check-connections", false, "Also open and ping every database connection")
	return cmd
}

// noStore satisfies the service during validate, which never records runs.
type noStore struct{}

func (noStore) SetStatus(string, string, string) error         { return nil }
func (noStore) GetStatus(string) (*domain.TaskStatus, error)   { return &domain.TaskStatus{}, nil }
func (noStore) CreateRun(*domain.TaskRun) error                { return nil }
func (noStore) ListRuns(string, int) ([]domain.TaskRun, error) { return nil, nil }

// ── Output helpers ─────────────────────────────────────────

func validateOutputFormat(output string) error {
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// flattenErrors expands errors.Join trees into their leaves.
func flattenErrors(err error) []error {
	if err == nil {
		return nil
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}
	var out []error
	for _, e := range joined.Unwrap() {
		out = append(out, flattenErrors(e)...)
	}
	return out
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
