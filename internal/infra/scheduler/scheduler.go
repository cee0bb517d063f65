// Package scheduler runs the cron-driven continuous vulnerability scans.
package scheduler

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/openctemio/ingest/internal/app/ingestion"
	"github.com/openctemio/ingest/pkg/domain/shared"
	"github.com/openctemio/ingest/pkg/logger"
)

// sweepConcurrency bounds how many projects one sweep ingests at a time.
// Each run holds a primary and a secondary transaction, so this also caps
// the sweep's connection footprint.
const sweepConcurrency = 4

// ProjectLister lists the projects eligible for continuous scanning.
type ProjectLister interface {
	ProjectsWithContinuousScans(ctx context.Context) ([]shared.ID, error)
}

// ContinuousRunner runs one continuous scan.
type ContinuousRunner interface {
	IngestProject(ctx context.Context, projectID shared.ID) (*ingestion.Result, error)
}

// ContinuousScanScheduler sweeps all SBOM-bearing projects on a cron
// schedule. One project failing does not stop the sweep.
type ContinuousScanScheduler struct {
	cron     *cron.Cron
	projects ProjectLister
	runner   ContinuousRunner
	log      *logger.Logger
}

// New creates the scheduler. An empty schedule disables it.
func New(schedule string, projects ProjectLister, runner ContinuousRunner, log *logger.Logger) (*ContinuousScanScheduler, error) {
	s := &ContinuousScanScheduler{
		cron:     cron.New(),
		projects: projects,
		runner:   runner,
		log:      log.With("component", "continuous_scan_scheduler"),
	}

	if schedule != "" {
		if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start begins running the schedule.
func (s *ContinuousScanScheduler) Start() {
	s.cron.Start()
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *ContinuousScanScheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *ContinuousScanScheduler) sweep() {
	ctx := context.Background()

	projectIDs, err := s.projects.ProjectsWithContinuousScans(ctx)
	if err != nil {
		s.log.WithError(err).Error("continuous scan sweep failed to list projects")
		return
	}

	var failed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, projectID := range projectIDs {
		projectID := projectID
		g.Go(func() error {
			if _, err := s.runner.IngestProject(ctx, projectID); err != nil {
				failed.Add(1)
				s.log.WithError(err).Error("continuous scan failed", "project_id", projectID)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("continuous scan sweep finished",
		"projects", len(projectIDs),
		"failed", failed.Load(),
	)
}
