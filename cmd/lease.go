package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/giantswarm/ctrlloop/internal/app"
	"github.com/giantswarm/ctrlloop/internal/config"
)

// leaseTimeout bounds the lease lookup.
const leaseTimeout = 30 * time.Second

func newLeaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lease",
		Short: "Show the current leader election lease",
		Long: `Reads the configured leader election lease and prints its holder,
duration and renewal times. The command never takes part in the election.`,
		Args: cobra.NoArgs,
		RunE: runLease,
	}
}

func runLease(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Source.Mode != config.SourceModeKubernetes {
		return fmt.Errorf("leases are only available in %s mode", config.SourceModeKubernetes)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, leaseTimeout)
	defer cancel()

	info, err := app.GetLease(ctx, cfg)
	if err != nil {
		return err
	}
	renderLease(cmd.OutOrStdout(), info, time.Now())
	return nil
}

// renderLease writes info as a table. now is used to report whether the
// lease has expired.
func renderLease(w io.Writer, info *app.LeaseInfo, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("LOCK"),
		text.FgHiCyan.Sprint("HOLDER"),
		text.FgHiCyan.Sprint("STATUS"),
		text.FgHiCyan.Sprint("LEASE DURATION"),
		text.FgHiCyan.Sprint("ACQUIRED"),
		text.FgHiCyan.Sprint("RENEWED"),
		text.FgHiCyan.Sprint("TRANSITIONS"),
	})

	r := info.Record
	t.AppendRow(table.Row{
		info.Lock,
		holderOf(r.HolderIdentity),
		leaseStatus(r.HolderIdentity, r.RenewTime, r.LeaseDuration, now),
		r.LeaseDuration,
		formatTime(r.AcquireTime),
		formatTime(r.RenewTime),
		r.LeaderTransitions,
	})
	t.Render()
}

func holderOf(identity string) string {
	if identity == "" {
		return "-"
	}
	return identity
}

func leaseStatus(holder string, renewed time.Time, duration time.Duration, now time.Time) string {
	switch {
	case holder == "":
		return text.FgYellow.Sprint("Released")
	case renewed.Add(duration).Before(now):
		return text.FgRed.Sprint("Expired")
	default:
		return text.FgGreen.Sprint("Held")
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
