package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-costing/internal/costing"
	"github.com/odyssey-erp/odyssey-costing/jobs"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
					if err := rt.Migrator.Up(ctx); err != nil {
						return err
					}
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the migration status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
					return rt.Migrator.Status(ctx)
				})
			},
		},
	)
	return cmd
}

type snapshotFlags struct {
	productID     int64
	date          string
	quantity      string
	primaryVolume string
	revenue       string
	volumes       []string
}

func newSnapshotCommand(opts *rootOptions) *cobra.Command {
	var flags snapshotFlags
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Compute and store the cost snapshot of one product",
		Long: `Compute and store the cost snapshot of one product for a day.

The produced quantity comes from --quantity or is derived from
--primary-volume. --volume id=qty entries form the day's production map
used to share the overhead pool; without them the product absorbs the
whole pool.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.productID <= 0 {
				return errors.New("snapshot: --product is required and must be positive")
			}
			input, err := flags.input()
			if err != nil {
				return err
			}
			volumes, err := parseVolumes(flags.volumes)
			if err != nil {
				return err
			}
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				day, err := rt.day(flags.date)
				if err != nil {
					return err
				}
				snap, err := rt.Service.Recalculate(ctx, costing.Request{
					ProductID: flags.productID,
					Day:       day,
					Input:     input,
					Volumes:   volumes,
				})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.format, snap, func(tw *tabwriter.Writer) {
					renderSnapshot(tw, snap)
				})
			})
		},
	}
	cmd.Flags().Int64Var(&flags.productID, "product", 0, "product id")
	cmd.Flags().StringVar(&flags.date, "date", "", "business day YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&flags.quantity, "quantity", "", "produced quantity")
	cmd.Flags().StringVar(&flags.primaryVolume, "primary-volume", "", "consumed volume of the primary input")
	cmd.Flags().StringVar(&flags.revenue, "revenue", "0", "revenue of the day")
	cmd.Flags().StringSliceVar(&flags.volumes, "volume", nil, "production map entry id=qty, repeatable")
	cmd.MarkFlagsMutuallyExclusive("quantity", "primary-volume")
	return cmd
}

func (f snapshotFlags) input() (costing.ProductionInput, error) {
	var in costing.ProductionInput
	if f.quantity != "" {
		qty, err := decimal.NewFromString(f.quantity)
		if err != nil {
			return in, fmt.Errorf("snapshot: invalid --quantity %q", f.quantity)
		}
		in.Quantity = decimal.NewNullDecimal(qty)
	}
	if f.primaryVolume != "" {
		vol, err := decimal.NewFromString(f.primaryVolume)
		if err != nil {
			return in, fmt.Errorf("snapshot: invalid --primary-volume %q", f.primaryVolume)
		}
		in.PrimaryInputVolume = decimal.NewNullDecimal(vol)
	}
	revenue, err := decimal.NewFromString(f.revenue)
	if err != nil {
		return in, fmt.Errorf("snapshot: invalid --revenue %q", f.revenue)
	}
	in.Revenue = revenue
	return in, nil
}

func parseVolumes(entries []string) (costing.Volumes, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	volumes := make(costing.Volumes, len(entries))
	for _, entry := range entries {
		rawID, rawQty, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --volume %q (expected id=qty)", entry)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid --volume product id %q", rawID)
		}
		qty, err := decimal.NewFromString(strings.TrimSpace(rawQty))
		if err != nil {
			return nil, fmt.Errorf("invalid --volume quantity %q", rawQty)
		}
		volumes[id] = qty
	}
	return volumes, nil
}

func newSnapshotsCommand(opts *rootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List the stored snapshots of a day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				day, err := rt.day(date)
				if err != nil {
					return err
				}
				snaps, err := rt.Service.Snapshots(ctx, day)
				if err != nil {
					return err
				}
				if snaps == nil {
					snaps = []costing.CostSnapshot{}
				}
				return render(cmd.OutOrStdout(), opts.format, snaps, func(tw *tabwriter.Writer) {
					renderSnapshotTable(tw, snaps)
				})
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "business day YYYY-MM-DD (default today)")
	return cmd
}

func newBatchCommand(opts *rootOptions) *cobra.Command {
	var (
		date     string
		file     string
		failFast bool
		enqueue  bool
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Cost every product of a day",
		Long: `Cost every product of a day.

--file points at a JSON production map keyed by product id, for example
{"1": {"quantity": "300"}, "2": {"primary_input_volume": "105", "revenue": "2000"}}.
Without --file the day's stored snapshots are re-costed. --enqueue hands
the run to the worker instead of computing it here. The command exits
with code 10 when products failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			var production map[int64]costing.ProductionInput
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("batch: read production file: %w", err)
				}
				if err := json.Unmarshal(data, &production); err != nil {
					return fmt.Errorf("batch: decode production file: %w", err)
				}
				raw = data
			}
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				day, err := rt.day(date)
				if err != nil {
					return err
				}
				if enqueue {
					info, err := rt.Queue.EnqueueDailyBatch(ctx, jobs.DailyBatchPayload{
						Date:       day.Format(costing.DateLayout),
						FailFast:   failFast,
						Production: raw,
					})
					if err != nil {
						return err
					}
					out := map[string]string{"task_id": info.ID, "queue": info.Queue}
					return render(cmd.OutOrStdout(), opts.format, out, func(tw *tabwriter.Writer) {
						_, _ = fmt.Fprintf(tw, "TASK\tQUEUE\n%s\t%s\n", info.ID, info.Queue)
					})
				}
				var result costing.BatchResult
				if production == nil {
					result, err = rt.Service.RecostDay(ctx, day, failFast)
				} else {
					result, err = rt.Service.RunDay(ctx, costing.BatchRequest{Day: day, Production: production, FailFast: failFast})
				}
				if err != nil {
					return err
				}
				if err := render(cmd.OutOrStdout(), opts.format, result, func(tw *tabwriter.Writer) {
					renderBatch(tw, result)
				}); err != nil {
					return err
				}
				if len(result.Failures) > 0 {
					return &ExitError{Code: ExitBatchFailures}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "business day YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&file, "file", "", "production map JSON file")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "abort on the first failing product")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "run on the worker instead")
	return cmd
}

func newBOMCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bom",
		Short: "Inspect bills of material",
	}
	var (
		productID int64
		date      string
		markup    string
	)
	preview := &cobra.Command{
		Use:   "preview",
		Short: "Value a product through its BOM without saving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if productID <= 0 {
				return errors.New("bom preview: --product is required and must be positive")
			}
			percent, err := decimal.NewFromString(markup)
			if err != nil {
				return fmt.Errorf("bom preview: invalid --markup %q", markup)
			}
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				day, err := rt.day(date)
				if err != nil {
					return err
				}
				cost, err := rt.Service.PreviewBOM(ctx, productID, day, percent)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.format, cost, func(tw *tabwriter.Writer) {
					_, _ = fmt.Fprintln(tw, "PRODUCT\tAS OF\tBASE\tOVERHEADS\tFINAL")
					_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", cost.ProductID, cost.AsOf.Format(costing.DateLayout),
						money(cost.BaseCost), money(cost.OverheadsAddon), money(cost.FinalCost))
				})
			})
		},
	}
	preview.Flags().Int64Var(&productID, "product", 0, "product id")
	preview.Flags().StringVar(&date, "date", "", "as-of day YYYY-MM-DD (default today)")
	preview.Flags().StringVar(&markup, "markup", "0", "overhead markup percent")
	cmd.AddCommand(preview)
	return cmd
}

func newDayCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "day",
		Short: "Manage business days",
	}
	var date string
	closeCmd := &cobra.Command{
		Use:   "close",
		Short: "Mark a day's expense logs as final",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				day, err := rt.day(date)
				if err != nil {
					return err
				}
				if err := rt.Days.CloseDay(ctx, day); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "day %s closed\n", day.Format(costing.DateLayout))
				return nil
			})
		},
	}
	closeCmd.Flags().StringVar(&date, "date", "", "business day YYYY-MM-DD (default today)")
	cmd.AddCommand(closeCmd)
	return cmd
}

func newJobsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect background jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Show the default queue state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				stats, err := rt.Queue.InspectQueue(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.format, stats, func(tw *tabwriter.Writer) {
					_, _ = fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
					_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
				})
			})
		},
	})
	return cmd
}

func renderSnapshot(tw *tabwriter.Writer, snap costing.CostSnapshot) {
	rows := [][2]string{
		{"product", strconv.FormatInt(snap.ProductID, 10)},
		{"date", snap.Day.Format(costing.DateLayout)},
		{"produced", qty(snap.ProducedQty)},
		{"primary input", qty(snap.PrimaryInputVolume)},
		{"physical", money(snap.PhysicalCost)},
		{"overhead", money(snap.OverheadCost)},
		{"components", money(snap.ComponentCost)},
		{"total", money(snap.TotalCost)},
		{"cost per unit", qty(snap.CostPerUnit)},
		{"revenue", money(snap.Revenue)},
		{"net profit", money(snap.NetProfit)},
	}
	for _, row := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
	}
	for _, line := range snap.Breakdown.Physical {
		_, _ = fmt.Fprintf(tw, "  physical\t%s\t%s %s\t%s\n", line.Name, qty(line.ConsumedQty), line.Unit, money(line.Amount))
	}
	for _, line := range snap.Breakdown.Overhead {
		_, _ = fmt.Fprintf(tw, "  overhead\t%s\tshare %s\t%s\n", line.Name, qty(line.Share), money(line.Amount))
	}
	for _, line := range snap.Breakdown.Components {
		_, _ = fmt.Fprintf(tw, "  component\t%s\t%s %s\t%s\n", line.Name, qty(line.ConsumedQty), line.Unit, money(line.Amount))
	}
}

func renderSnapshotTable(tw *tabwriter.Writer, snaps []costing.CostSnapshot) {
	_, _ = fmt.Fprintln(tw, "PRODUCT\tPRODUCED\tPHYSICAL\tOVERHEAD\tCOMPONENTS\tTOTAL\tPER UNIT\tREVENUE\tNET")
	for _, snap := range snaps {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			snap.ProductID, qty(snap.ProducedQty), money(snap.PhysicalCost), money(snap.OverheadCost),
			money(snap.ComponentCost), money(snap.TotalCost), qty(snap.CostPerUnit), money(snap.Revenue), money(snap.NetProfit))
	}
}

func renderBatch(tw *tabwriter.Writer, result costing.BatchResult) {
	_, _ = fmt.Fprintf(tw, "run\t%s\n", result.RunID)
	_, _ = fmt.Fprintf(tw, "date\t%s\n", result.Day.Format(costing.DateLayout))
	_, _ = fmt.Fprintf(tw, "overhead pool\t%s\n", money(result.Pool.Total()))
	_, _ = fmt.Fprintf(tw, "saved\t%d\n", len(result.Snapshots))
	_, _ = fmt.Fprintf(tw, "failed\t%d\n\n", len(result.Failures))
	if len(result.Snapshots) > 0 {
		renderSnapshotTable(tw, result.Snapshots)
	}
	for _, failure := range result.Failures {
		_, _ = fmt.Fprintf(tw, "FAILED\t%d\t%s\n", failure.ProductID, failure.Error)
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(costing.MoneyPlaces)
}

func qty(d decimal.Decimal) string {
	return d.StringFixed(costing.QtyPlaces)
}
