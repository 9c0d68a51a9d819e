// Package cmd defines and implements the CLI commands for the serialwatch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/crawler"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs one incremental session",
		Long: `Loads the crawl state, locates the current frontier, scans every
serial above the last confirmed watermark (bounded by the catch-up ceiling),
and persists the new records and watermarks.`,
		Args: cobra.NoArgs,
		RunE: runSessionCommand,
	}
}

func runSessionCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	res, runErr := a.Controller.RunSession(cmd.Context())
	if res.ID != "" {
		if err := printJSON(cmd.OutOrStdout(), res.Summary()); err != nil {
			return err
		}
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			a.Logger.Info("session interrupted, progress saved",
				zap.Int64("final_confirmed", int64(res.FinalConfirmedSerial)))
		}
		return fmt.Errorf("run session: %w", runErr)
	}
	return nil
}

func newLocateCmd() *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Finds the highest issued serial without scanning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			start := crawler.Serial(seed)
			if start <= 0 {
				state, err := a.Store.Load(cmd.Context())
				if err != nil {
					return fmt.Errorf("load state: %w", err)
				}
				start = max(state.HighestKnownValidSerial, state.LastConfirmedSerial)
			}
			latest, err := a.Locator.Locate(cmd.Context(), start)
			if err != nil {
				return fmt.Errorf("locate frontier: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]int64{
				"seed":   int64(start),
				"latest": int64(latest),
			})
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 0, "serial to search from (default: highest known serial in state)")
	return cmd
}

type scanReport struct {
	Start         crawler.Serial   `json:"start"`
	End           crawler.Serial   `json:"end"`
	LastAttempted crawler.Serial   `json:"last_attempted"`
	Found         int              `json:"found"`
	Added         int              `json:"added"`
	Skipped       []crawler.Serial `json:"skipped,omitempty"`
}

// newScanCmd scans an explicit range into the record sink. It never moves the
// watermarks, so it is the way to backfill a range a catch-up session deferred.
func newScanCmd() *cobra.Command {
	var start, end int64
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scans an explicit serial range into the record sink",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, scanErr := a.Scanner.Scan(cmd.Context(), crawler.Serial(start), crawler.Serial(end))
			if scanErr != nil && !errors.Is(scanErr, context.Canceled) {
				return fmt.Errorf("scan: %w", scanErr)
			}
			report := scanReport{
				Start:         res.Start,
				End:           res.End,
				LastAttempted: res.LastAttempted,
				Found:         len(res.Records),
				Skipped:       res.Skipped,
			}
			if a.Sink != nil && len(res.Records) > 0 {
				// The records are already fetched; keep them even if the scan was interrupted.
				added, err := a.Sink.Append(context.WithoutCancel(cmd.Context()), res.Records)
				if err != nil {
					return fmt.Errorf("append records: %w", err)
				}
				report.Added = added
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if scanErr != nil {
				return fmt.Errorf("scan: %w", scanErr)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&start, "start", 0, "first serial to scan")
	cmd.Flags().Int64Var(&end, "end", 0, "last serial to scan (inclusive)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}
