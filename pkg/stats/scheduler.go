package stats

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/snowcode-dev/snowcode/pkg/observability"
)

// Scheduler runs periodic aggregation passes and pushes the totals into the
// observability gauges.
type Scheduler struct {
	aggregator *Aggregator
	projectID  string
	schedule   string
	cron       *cron.Cron
}

// NewScheduler creates a scheduler. schedule is a cron expression; the
// "@every 5m" form works too.
func NewScheduler(aggregator *Aggregator, projectID, schedule string) *Scheduler {
	return &Scheduler{
		aggregator: aggregator,
		projectID:  projectID,
		schedule:   schedule,
	}
}

// Start runs one pass immediately, then on the configured schedule until
// Stop is called.
func (s *Scheduler) Start() error {
	s.Refresh()

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, s.Refresh); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts scheduling. A pass already in flight finishes.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Refresh runs one aggregation pass and updates the gauges. Failures are
// logged; a bad pass leaves the previous gauge values in place.
func (s *Scheduler) Refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report, err := s.aggregator.Aggregate(ctx, s.projectID, Options{})
	if err != nil {
		log.Printf("stats: aggregation failed: %v", err)
		return
	}

	observability.SetStatsRollup(
		report.TotalCost,
		report.Tokens.Input,
		report.Tokens.Output,
		report.Tokens.Reasoning,
		report.Tokens.Cache.Read,
		report.Tokens.Cache.Write,
		report.Sessions,
	)
}
