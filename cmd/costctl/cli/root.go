// Package cli implements the costctl operator commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-costing/internal/costing"
	"github.com/odyssey-erp/odyssey-costing/jobs"
)

// Service is the costing surface the commands drive.
type Service interface {
	Recalculate(ctx context.Context, req costing.Request) (costing.CostSnapshot, error)
	RunDay(ctx context.Context, req costing.BatchRequest) (costing.BatchResult, error)
	RecostDay(ctx context.Context, day time.Time, failFast bool) (costing.BatchResult, error)
	Snapshots(ctx context.Context, day time.Time) ([]costing.CostSnapshot, error)
	PreviewBOM(ctx context.Context, productID int64, day time.Time, markupPercent decimal.Decimal) (costing.ProductCost, error)
}

// Migrator applies and reports schema migrations.
type Migrator interface {
	Up(ctx context.Context) error
	Status(ctx context.Context) error
}

// DayCloser marks a day's expense logs as final.
type DayCloser interface {
	CloseDay(ctx context.Context, day time.Time) error
}

// Queue submits and inspects background jobs.
type Queue interface {
	EnqueueDailyBatch(ctx context.Context, payload jobs.DailyBatchPayload) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
}

// Runtime bundles the dependencies of one command invocation.
type Runtime struct {
	Service  Service
	Migrator Migrator
	Days     DayCloser
	Queue    Queue
	Location *time.Location
	Close    func()
}

// Connector builds a Runtime. Commands call it lazily so that --help and
// flag errors never touch the database.
type Connector func(ctx context.Context) (*Runtime, error)

// ExitError carries a process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitBatchFailures is returned when a day run recorded product failures.
const ExitBatchFailures = 10

type rootOptions struct {
	connect Connector
	format  string
}

// NewRootCommand assembles the costctl command tree.
func NewRootCommand(connect Connector, stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{connect: connect}
	root := &cobra.Command{
		Use:   "costctl",
		Short: "Operate the production costing engine",
		Long: `costctl computes and inspects daily production cost snapshots.

Examples:
  costctl migrate up
  costctl snapshot --product 2 --date 2024-03-01 --quantity 100 --volume 1=300
  costctl batch --date 2024-03-01 --file production.json
  costctl bom preview --product 2 --format yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validateFormat(opts.format)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&opts.format, "format", "f", FormatTable, "output format (table, json, yaml)")

	root.AddCommand(
		newMigrateCommand(opts),
		newSnapshotCommand(opts),
		newSnapshotsCommand(opts),
		newBatchCommand(opts),
		newBOMCommand(opts),
		newDayCommand(opts),
		newJobsCommand(opts),
	)
	return root
}

// Execute runs costctl and returns the process exit code.
func Execute(ctx context.Context, connect Connector, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(connect, stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			_, _ = fmt.Fprintf(stderr, "costctl: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	_, _ = fmt.Fprintf(stderr, "costctl: %v\n", err)
	return 1
}

// withRuntime connects, runs fn and releases the runtime.
func (o *rootOptions) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *Runtime) error) error {
	if o.connect == nil {
		return errors.New("no runtime configured")
	}
	ctx := cmd.Context()
	rt, err := o.connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if rt.Close != nil {
		defer rt.Close()
	}
	return fn(ctx, rt)
}

func (rt *Runtime) day(raw string) (time.Time, error) {
	if raw == "" {
		return costing.Today(rt.Location), nil
	}
	return costing.ParseDay(raw)
}
