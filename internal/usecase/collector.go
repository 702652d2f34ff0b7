// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/naka-gawa/clone-traffic/internal/domain"
	"github.com/naka-gawa/clone-traffic/internal/gateway"
	"go.uber.org/zap"
)

// Ingestor is the subset of the store the collector writes through.
type Ingestor interface {
	EnsureRepository(ctx context.Context, owner, repo string) (int64, error)
	MergeSample(ctx context.Context, repoID int64, sample domain.DailySample) error
}

// Recorder observes run outcomes. The metrics package implements it.
type Recorder interface {
	FetchSucceeded()
	FetchFailed(kind string)
	SampleMerged()
	NewDownloads(n int64)
}

// Collector pulls clone traffic for each repository and merges it into the store.
// It works on one repository at a time; nothing runs concurrently.
type Collector struct {
	fetcher  gateway.Fetcher
	ingestor Ingestor
	recorder Recorder
	logger   *zap.Logger
}

// NewCollector creates a new Collector instance. recorder may be nil.
func NewCollector(fetcher gateway.Fetcher, ingestor Ingestor, recorder Recorder, logger *zap.Logger) *Collector {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Collector{
		fetcher:  fetcher,
		ingestor: ingestor,
		recorder: recorder,
		logger:   logger,
	}
}

// Run processes targets in order. A failing repository is logged and skipped;
// whatever it already merged stays in the store. A cancelled ctx stops the
// loop before the next repository.
func (c *Collector) Run(ctx context.Context, targets []domain.RepoRef) domain.RunSummary {
	var summary domain.RunSummary
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("run cancelled", zap.Error(err), zap.Int("remaining", len(targets)-i))
			break
		}

		u := c.fetcher.ClonesURL(target.Owner, target.Name)
		merged, downloads, err := c.collect(ctx, target, u)
		summary.SamplesMerged += merged
		if err != nil {
			c.logger.Error("failed to record clones",
				zap.String("owner", target.Owner),
				zap.String("repo", target.Name),
				zap.String("url", u),
				zap.Error(err))
			summary.Failed = append(summary.Failed, domain.RepoFailure{Repo: target, Err: err})
			continue
		}
		summary.Processed++
		summary.NewDownloads += downloads
		c.recorder.NewDownloads(downloads)
	}
	c.logger.Info("run complete",
		zap.Int("processed", summary.Processed),
		zap.Int("failed", len(summary.Failed)),
		zap.Int64("new_downloads", summary.NewDownloads))
	return summary
}

// collect handles one repository: fetch, resolve its id on the first sample, then merge every sample.
// Store failures are wrapped with u, the endpoint the samples came from.
func (c *Collector) collect(ctx context.Context, target domain.RepoRef, u string) (merged int, downloads int64, err error) {
	report, err := c.fetcher.FetchClones(ctx, target.Owner, target.Name)
	if err != nil {
		c.recorder.FetchFailed(fetchErrorKind(err))
		return 0, 0, err
	}
	c.recorder.FetchSucceeded()

	if len(report.Clones) == 0 {
		c.logger.Debug("no clone traffic reported", zap.Stringer("repo", target))
		return 0, 0, nil
	}

	repoID, err := c.ingestor.EnsureRepository(ctx, target.Owner, target.Name)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to write clones for url %s: %w", u, err)
	}
	for _, sample := range report.Clones {
		if err := c.ingestor.MergeSample(ctx, repoID, sample); err != nil {
			return merged, 0, fmt.Errorf("failed to write clones for url %s: %w", u, err)
		}
		merged++
		downloads += sample.Count
		c.recorder.SampleMerged()
	}
	c.logger.Debug("merged clone traffic", zap.Stringer("repo", target), zap.Int("days", merged), zap.Int64("downloads", downloads))
	return merged, downloads, nil
}

func fetchErrorKind(err error) string {
	var fetchErr *gateway.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind.String()
	}
	return "invalid"
}

type nopRecorder struct{}

func (nopRecorder) FetchSucceeded()    {}
func (nopRecorder) FetchFailed(string) {}
func (nopRecorder) SampleMerged()      {}
func (nopRecorder) NewDownloads(int64) {}
