package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/bryan-buckman/aurora/internal/model"
	"github.com/bryan-buckman/aurora/internal/rss"
)

// refreshFeeds fetches every feed below the error ceiling. One feed's
// failure is recorded on that feed and never stops the sweep.
func (s *Scheduler) refreshFeeds(ctx context.Context) (bool, string) {
	feeds, err := s.store.ListFeedsForRefresh(ctx, MaxFeedErrors)
	if err != nil {
		return false, fmt.Sprintf("Failed to fetch feeds: %v", err)
	}

	concurrency := s.sweepConcurrency
	if concurrency <= 0 {
		concurrency = 1
		if s.store.SupportsHighConcurrency() {
			concurrency = concurrencyPostgres
		}
	}
	s.log.Info("Refreshing feeds", "feeds", len(feeds), "concurrency", concurrency)

	var succeeded, failed, skipped atomic.Int64
	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, feed := range feeds {
		g.Go(func() error {
			if ctx.Err() != nil {
				skipped.Add(1)
				return nil
			}
			if s.refreshFeed(ctx, feed) {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	msg := fmt.Sprintf("Refreshed %d feeds, %d successful, %d failed",
		len(feeds), succeeded.Load(), failed.Load())
	if n := skipped.Load(); n > 0 {
		msg += fmt.Sprintf(", %d skipped after deadline", n)
	}
	return failed.Load() == 0 && skipped.Load() == 0, msg
}

func (s *Scheduler) refreshFeed(ctx context.Context, feed model.Feed) bool {
	_, err := s.fetcher.FetchFeed(ctx, feed.ID)
	if err == nil {
		return true
	}
	s.log.Warn("Failed to refresh feed", "feed_id", feed.ID, "url", feed.URL, "error", err)
	if ctx.Err() != nil {
		// The sweep ran out of time; the feed itself is not at fault.
		return false
	}
	if rerr := s.store.RecordFeedFailure(ctx, feed.ID, rss.StatusText(err), s.now()); rerr != nil {
		s.log.Error("Failed to record feed failure", "feed_id", feed.ID, "error", rerr)
	}
	return false
}

func (s *Scheduler) cleanupIcons(ctx context.Context) (bool, string) {
	n, err := s.icons.Cleanup(ctx)
	if err != nil {
		return false, fmt.Sprintf("Failed to cleanup icons: %v", err)
	}
	return true, fmt.Sprintf("Cleaned up %d expired icons", n)
}

func (s *Scheduler) checkHealth(ctx context.Context) (bool, string) {
	pctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	status := "OK"
	err := s.store.Ping(pctx)
	if err != nil {
		status = "ERROR"
		s.log.Error("Health check failed", "error", err)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return err == nil, fmt.Sprintf("Database: %s, Memory: %s", status, humanize.IBytes(mem.HeapAlloc))
}
