// Package queue is the engine facade: it validates submissions, runs them
// through the distribution engine and persists the result, and carries the
// processor-facing claim/report contract.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"indexator/internal/database"
	"indexator/internal/distribution"
	"indexator/internal/domain"
	"indexator/internal/metrics"
	"indexator/internal/models"
	"indexator/internal/quota"
	"indexator/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	db          *database.DB
	agg         *quota.Aggregator
	snapshots   domain.SnapshotRepository
	retry       worker.RetryPolicy
	maxAttempts int
	maxFailures int
	log         zerolog.Logger
}

func NewService(db *database.DB, agg *quota.Aggregator, snapshots domain.SnapshotRepository,
	retry worker.RetryPolicy, maxAttempts, maxFailures int, logger *zerolog.Logger) *Service {
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}
	if maxFailures <= 0 {
		maxFailures = models.DefaultFailureThreshold
	}
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "queue").Logger()
	}
	return &Service{
		db:          db,
		agg:         agg,
		snapshots:   snapshots,
		retry:       retry,
		maxAttempts: maxAttempts,
		maxFailures: maxFailures,
		log:         log,
	}
}

// EnqueueResult is what a submission call reports back.
type EnqueueResult struct {
	Queued       int            `json:"queued"`
	Skipped      int            `json:"skipped"`
	Distribution map[string]int `json:"distribution"`
	DaysNeeded   int            `json:"days_needed"`
	BatchIDs     []string       `json:"batch_ids"`
}

// Enqueue distributes candidate URLs over the site's eligible integrations
// and persists the assignment as batches plus pending queue items. URLs
// already active in the queue are skipped, not duplicated. Validation
// happens before any write; the insert itself is a single transaction, so a
// failed call leaves no partial batch behind. Retrying is safe, but quota
// is re-read on every attempt rather than replaying a stale assignment.
func (s *Service) Enqueue(ctx context.Context, siteID int64, candidates []models.URLCandidate) (*EnqueueResult, error) {
	active, err := s.db.ActiveURLSet(ctx, siteID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(candidates))
	urls := make([]models.URLCandidate, 0, len(candidates))
	skipped := 0
	for _, c := range candidates {
		c.URL = strings.TrimSpace(c.URL)
		if c.URL == "" || seen[c.URL] || active[c.URL] {
			skipped++
			continue
		}
		seen[c.URL] = true
		urls = append(urls, c)
	}

	if len(urls) == 0 {
		if skipped == 0 {
			return nil, distribution.ErrEmptyURLList
		}
		// every candidate was blank or already active; a benign no-op,
		// not an error
		s.log.Info().Int64("site_id", siteID).Int("skipped", skipped).Msg("nothing new to enqueue")
		return &EnqueueResult{Skipped: skipped, Distribution: map[string]int{}}, nil
	}

	now := time.Now()
	accounts, err := s.accounts(ctx, siteID, now)
	if err != nil {
		return nil, err
	}

	opts := distribution.Options{Now: now, MaxConsecutiveFailures: s.maxFailures}
	result, err := distribution.Distribute(urls, accounts, opts)
	if err != nil {
		return nil, err
	}

	batches, drafts := s.packBatches(siteID, result.Drafts)
	if err := s.db.EnqueueDistribution(ctx, batches, drafts); err != nil {
		return nil, fmt.Errorf("persist distribution: %w", err)
	}

	metrics.IncOp("enqueue")
	metrics.AddEnqueued(siteID, len(drafts))
	s.log.Info().
		Int64("site_id", siteID).
		Int("queued", len(drafts)).
		Int("skipped", skipped).
		Int("days_needed", result.DaysNeeded).
		Msg("urls enqueued")

	batchIDs := make([]string, 0, len(batches))
	for _, b := range batches {
		batchIDs = append(batchIDs, b.ID)
	}

	return &EnqueueResult{
		Queued:       len(drafts),
		Skipped:      skipped,
		Distribution: result.ByIntegration,
		DaysNeeded:   result.DaysNeeded,
		BatchIDs:     batchIDs,
	}, nil
}

// packBatches groups drafts per integration into one batch each and tags
// the drafts with the fresh batch ids.
func (s *Service) packBatches(siteID int64, drafts []models.QueueItem) ([]models.Batch, []models.QueueItem) {
	byIntegration := make(map[int64]*models.Batch)
	var batches []models.Batch

	order := make([]int64, 0)
	for _, d := range drafts {
		if _, ok := byIntegration[d.IntegrationID]; !ok {
			byIntegration[d.IntegrationID] = &models.Batch{
				ID:            uuid.NewString(),
				SiteID:        siteID,
				IntegrationID: d.IntegrationID,
				Status:        models.BatchQueued,
			}
			order = append(order, d.IntegrationID)
		}
		byIntegration[d.IntegrationID].TotalURLs++
	}

	out := make([]models.QueueItem, len(drafts))
	for i, d := range drafts {
		d.BatchID = byIntegration[d.IntegrationID].ID
		out[i] = d
	}

	for _, id := range order {
		batches = append(batches, *byIntegration[id])
	}
	return batches, out
}

// accounts builds distribution inputs from a freshly computed quota view.
func (s *Service) accounts(ctx context.Context, siteID int64, now time.Time) ([]distribution.Account, error) {
	integrations, err := s.db.GetSiteIntegrations(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if len(integrations) == 0 {
		return nil, distribution.ErrNoEligibleIntegrations
	}

	agg, err := s.agg.Aggregate(ctx, siteID, now)
	if err != nil {
		return nil, err
	}
	return distribution.AccountsFromQuota(integrations, agg)
}

// RemoveItem deletes a single still-pending item.
func (s *Service) RemoveItem(ctx context.Context, id int64) error {
	if err := s.db.RemoveItem(ctx, id); err != nil {
		return err
	}
	metrics.IncOp("remove_item")
	return nil
}

// CancelBatch cancels a batch and drops its pending items; terminal items
// stay for history.
func (s *Service) CancelBatch(ctx context.Context, batchID string) error {
	removed, err := s.db.CancelBatch(ctx, batchID)
	if err != nil {
		return err
	}
	metrics.IncOp("cancel_batch")
	s.log.Info().Str("batch_id", batchID).Int64("removed", removed).Msg("batch cancelled")
	return nil
}

// GetBatch returns a batch with its progress counters.
func (s *Service) GetBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	return s.db.GetBatch(ctx, batchID)
}

// ClearAllPending drops every pending item of a site.
func (s *Service) ClearAllPending(ctx context.Context, siteID int64) (int64, error) {
	removed, err := s.db.ClearAllPending(ctx, siteID)
	if err != nil {
		return 0, err
	}
	metrics.IncOp("clear_pending")
	s.log.Info().Int64("site_id", siteID).Int64("removed", removed).Msg("pending queue cleared")
	return removed, nil
}

// Stats returns the per-site queue counters.
func (s *Service) Stats(ctx context.Context, siteID int64) (*models.QueueStats, error) {
	return s.db.QueueStats(ctx, siteID, time.Now())
}

// AggregatedQuota serves the cached snapshot when present and recomputes
// on a miss. Staleness up to one poll interval is expected.
func (s *Service) AggregatedQuota(ctx context.Context, siteID int64) (*models.AggregatedQuota, error) {
	if s.snapshots != nil {
		snap, err := s.snapshots.GetSnapshot(ctx, siteID)
		if err == nil && snap != nil {
			return snap, nil
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("snapshot cache read failed, recomputing")
		}
	}

	snap, err := s.agg.Aggregate(ctx, siteID, time.Now())
	if err != nil {
		return nil, err
	}
	if s.snapshots != nil {
		if err := s.snapshots.SetSnapshot(ctx, snap); err != nil {
			s.log.Warn().Err(err).Msg("snapshot cache write failed")
		}
	}
	return snap, nil
}

// Claim hands the next due pending item of an integration to a processor
// worker, or nil when nothing is due.
func (s *Service) Claim(ctx context.Context, integrationID int64) (*models.QueueItem, error) {
	item, err := s.db.ClaimNextPending(ctx, integrationID, time.Now())
	if err != nil {
		return nil, err
	}
	if item != nil {
		metrics.IncOp("claim")
	}
	return item, nil
}

// ReportResult records a processor outcome for a claimed item. Successes
// complete the item; failures requeue it with backoff until attempts are
// exhausted, then mark it terminally failed. Either way the submission is
// appended to the history the quota aggregator reads, and the integration
// health ledger is advanced.
//
// The conditional status transition runs first and is the only guard:
// racing reports for the same item lose the conditional update and return
// before any durable side effect is written, so the history can never
// carry more rows than resolved items.
func (s *Service) ReportResult(ctx context.Context, itemID int64, success bool, errMsg string) error {
	item, err := s.db.GetQueueItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Status != models.ItemProcessing {
		return fmt.Errorf("queue item %d has status %s: %w", itemID, item.Status, database.ErrInvalidState)
	}

	now := time.Now()
	if success {
		if err := s.db.CompleteItem(ctx, itemID, now); err != nil {
			return err
		}
		if err := s.recordOutcome(ctx, item, true, "", now); err != nil {
			return err
		}
		if item.BatchID != "" {
			if err := s.db.IncrementBatchCounters(ctx, item.BatchID, 1, 0); err != nil {
				return err
			}
			if err := s.db.CloseBatchIfDone(ctx, item.BatchID, now); err != nil {
				return err
			}
		}
		metrics.IncOp("complete")
		return nil
	}

	attempts := item.Attempts + 1
	if attempts >= s.maxAttempts {
		if err := s.db.MarkItemFailed(ctx, itemID, errMsg, now); err != nil {
			return err
		}
		if err := s.recordOutcome(ctx, item, false, errMsg, now); err != nil {
			return err
		}
		if item.BatchID != "" {
			if err := s.db.IncrementBatchCounters(ctx, item.BatchID, 0, 1); err != nil {
				return err
			}
			if err := s.db.CloseBatchIfDone(ctx, item.BatchID, now); err != nil {
				return err
			}
		}
		metrics.IncOp("fail")
		s.log.Warn().Int64("item_id", itemID).Int("attempts", attempts).Str("error", errMsg).Msg("item failed terminally")
		return nil
	}

	next := now.Add(s.retry.NextDelay(attempts))
	if err := s.db.RequeueItemForRetry(ctx, itemID, errMsg, next); err != nil {
		return err
	}
	if err := s.recordOutcome(ctx, item, false, errMsg, now); err != nil {
		return err
	}
	metrics.IncOp("retry")
	return nil
}

// recordOutcome appends the submission history row and advances the
// integration health ledger. Called only after the item's status
// transition succeeded.
func (s *Service) recordOutcome(ctx context.Context, item *models.QueueItem, success bool, errMsg string, now time.Time) error {
	if err := s.db.RecordSubmission(ctx, item.SiteID, item.IntegrationID, item.URL, success, errMsg, now); err != nil {
		return err
	}
	if success {
		if err := s.db.RecordIntegrationSuccess(ctx, item.IntegrationID); err != nil {
			s.log.Warn().Err(err).Int64("integration_id", item.IntegrationID).Msg("record integration success")
		}
		return nil
	}
	if err := s.db.RecordIntegrationFailure(ctx, item.IntegrationID, s.maxFailures); err != nil {
		s.log.Warn().Err(err).Int64("integration_id", item.IntegrationID).Msg("record integration failure")
	}
	return nil
}
