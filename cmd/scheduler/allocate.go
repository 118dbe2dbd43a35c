package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/example/reservation-scheduler/internal/application"
	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/cache"
	"github.com/example/reservation-scheduler/internal/persistence"
	"github.com/example/reservation-scheduler/internal/scenario"
	"github.com/example/reservation-scheduler/internal/scheduler"
)

type allocateOptions struct {
	dryRun      bool
	now         string
	timezone    string
	metricsFile string
}

func newAllocateCommand(a *app) *cobra.Command {
	var opts allocateOptions
	cmd := &cobra.Command{
		Use:   "allocate SCENARIO",
		Short: "Allocate the requests of a scenario file in order",
		Long: "Allocate loads the devices of a scenario into the capacity cache and allocates\n" +
			"its requests one after another. Failed allocations print their report tree.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.allocate(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "allocate against an empty in-memory store")
	cmd.Flags().StringVar(&opts.now, "now", "", "current time as RFC 3339, defaults to the wall clock")
	cmd.Flags().StringVar(&opts.timezone, "timezone", "UTC", "location periodic requests repeat in")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file when done")
	return cmd
}

// allocationSummary counts request outcomes.
type allocationSummary struct {
	allocated int
	failed    int
}

func (a *app) allocate(ctx context.Context, out io.Writer, path string, opts allocateOptions) error {
	now := func() time.Time { return time.Now().UTC() }
	if opts.now != "" {
		fixed, err := time.Parse(time.RFC3339, opts.now)
		if err != nil {
			return fmt.Errorf("--now: %w", err)
		}
		now = func() time.Time { return fixed.UTC() }
	}
	loc, err := time.LoadLocation(opts.timezone)
	if err != nil {
		return fmt.Errorf("--timezone: %w", err)
	}

	s, err := scenario.Load(path)
	if err != nil {
		return err
	}
	var cacheOpts []cache.Option
	if a.cfg.RoomMaxDuration > 0 {
		cacheOpts = append(cacheOpts, cache.WithRoomReservationMaximumDuration(a.cfg.RoomMaxDuration))
	}
	capacity, err := s.BuildCache(cacheOpts...)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx, opts.dryRun)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	engine := scheduler.New(capacity, store,
		scheduler.WithLogger(a.logger),
		scheduler.WithMetrics(scheduler.NewMetrics(registry)),
		scheduler.WithClock(now),
		scheduler.WithExecutableAllowed(a.cfg.ExecutableAllowed),
		scheduler.WithCommitRetry(a.cfg.CommitAttempts, a.cfg.CommitDelay),
	)
	service := application.NewReservationServiceWithLogger(engine, store, now, a.logger).WithLocation(loc)

	summary, err := runRequests(ctx, out, service, store, s.Requests)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "allocated %d, failed %d\n", summary.allocated, summary.failed)

	if opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsFile, registry); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

// runRequests allocates requests in document order. Allocation failures are
// printed and counted; any other error stops the run.
func runRequests(ctx context.Context, out io.Writer, service *application.ReservationService, store persistence.ReservationRepository, requests []scenario.Request) (allocationSummary, error) {
	resolve := func(requestID string) ([]*booking.Reservation, error) {
		return store.ListRequestReservations(ctx, requestID)
	}

	var summary allocationSummary
	record := func(requestID string, result *scheduler.Result, err error) error {
		if err == nil {
			summary.allocated++
			printAllocated(out, requestID, result)
			return nil
		}
		kind := application.ErrorKind(err)
		if kind != "allocation_failed" && kind != "validation" {
			return fmt.Errorf("request %s: %w", requestID, err)
		}
		summary.failed++
		fmt.Fprintf(out, "%s\tfailed\n", requestID)
		if schedulerErr, ok := scheduler.AsSchedulerError(err); ok {
			fmt.Fprintln(out, indent(schedulerErr.Report.Tree()))
		} else {
			fmt.Fprintf(out, "  %v\n", err)
		}
		return nil
	}

	for _, request := range requests {
		input, err := request.AllocateInput(resolve)
		if err != nil {
			return summary, fmt.Errorf("request %s: %w", request.ID, err)
		}
		rule, err := request.Rule()
		if err != nil {
			return summary, fmt.Errorf("request %s: %w", request.ID, err)
		}
		if rule == nil {
			result, err := service.Allocate(ctx, input)
			if err := record(request.ID, result, err); err != nil {
				return summary, err
			}
			continue
		}

		periodic, err := service.AllocatePeriodic(ctx, application.PeriodicInput{AllocateInput: input, Rule: *rule})
		if err != nil {
			if err := record(request.ID, nil, err); err != nil {
				return summary, err
			}
			continue
		}
		for _, occurrence := range periodic.Occurrences {
			if err := record(occurrence.RequestID, occurrence.Result, occurrence.Err); err != nil {
				return summary, err
			}
		}
	}
	return summary, nil
}

func printAllocated(out io.Writer, requestID string, result *scheduler.Result) {
	reservation := result.Reservation
	fmt.Fprintf(out, "%s\tallocated\t%s\t%s", requestID, reservation.ID, reservation.Slot)
	if reservation.Executable != nil {
		fmt.Fprintf(out, "\tlicenses=%d", reservation.Executable.LicenseCount())
		for _, alias := range reservation.Executable.Aliases() {
			fmt.Fprintf(out, "\t%s:%s", alias.Type, alias.Value)
		}
	}
	fmt.Fprintln(out)
	for _, reallocation := range result.Reallocations {
		fmt.Fprintf(out, "  reallocate %s\n", reallocation.RequestID)
	}
}

func indent(tree string) string {
	return "  " + strings.ReplaceAll(tree, "\n", "\n  ")
}
