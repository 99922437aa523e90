// Package rebalance redistributes still-pending queue items when the
// eligible integration set changes, without losing or duplicating a URL.
//
// The protocol is mark / redistribute / commit-or-rollback. Marking is a
// per-row conditional update to the transient rebalancing status, which
// keeps processors and user-facing cancel away from the frozen rows. The
// commit inserts the replacements and deletes the frozen originals inside
// one transaction; any failure instead reverts the mark. Items enqueued
// concurrently after the snapshot was taken are deliberately out of scope
// for that pass and simply stay pending.
package rebalance

import (
	"context"
	"fmt"
	"time"

	"indexator/internal/database"
	"indexator/internal/distribution"
	"indexator/internal/metrics"
	"indexator/internal/models"
	"indexator/internal/quota"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Coordinator struct {
	db          *database.DB
	agg         *quota.Aggregator
	maxFailures int
	log         zerolog.Logger
}

func NewCoordinator(db *database.DB, agg *quota.Aggregator, maxFailures int, logger *zerolog.Logger) *Coordinator {
	if maxFailures <= 0 {
		maxFailures = models.DefaultFailureThreshold
	}
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "rebalance").Logger()
	}
	return &Coordinator{
		db:          db,
		agg:         agg,
		maxFailures: maxFailures,
		log:         log,
	}
}

// Preview is the would-be distribution shown for user confirmation.
type Preview struct {
	PendingURLs  int            `json:"pending_urls"`
	Distribution map[string]int `json:"distribution"`
	DaysNeeded   int            `json:"days_needed"`
}

// PreviewRebalance computes what rebalancing would do against the current
// integration set. Side-effect free; returns nil when nothing is pending.
func (c *Coordinator) PreviewRebalance(ctx context.Context, siteID int64) (*Preview, error) {
	pending, err := c.db.GetPendingItems(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	now := time.Now()
	accounts, err := c.accounts(ctx, siteID, now)
	if err != nil {
		return nil, err
	}

	result, err := distribution.Distribute(candidates(pending), accounts,
		distribution.Options{Now: now, MaxConsecutiveFailures: c.maxFailures})
	if err != nil {
		return nil, err
	}

	return &Preview{
		PendingURLs:  len(pending),
		Distribution: result.ByIntegration,
		DaysNeeded:   result.DaysNeeded,
	}, nil
}

// RebalanceQueue re-runs the distribution over every currently pending item
// and atomically replaces them with the new assignment. Returns the number
// of URLs rebalanced. On any failure after the mark phase the frozen items
// are reverted to pending, so the pending set is exactly what it was.
func (c *Coordinator) RebalanceQueue(ctx context.Context, siteID int64) (int, error) {
	pending, err := c.db.GetPendingItems(ctx, siteID)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	ids := make([]int64, len(pending))
	for i, item := range pending {
		ids[i] = item.ID
	}

	markedIDs, err := c.db.MarkRebalancing(ctx, ids)
	if err != nil {
		c.rollback(ctx, markedIDs)
		return 0, fmt.Errorf("mark phase: %w", err)
	}
	if len(markedIDs) == 0 {
		// every candidate raced into another state; nothing to do
		return 0, nil
	}

	markedSet := make(map[int64]bool, len(markedIDs))
	for _, id := range markedIDs {
		markedSet[id] = true
	}
	frozen := make([]models.QueueItem, 0, len(markedIDs))
	for _, item := range pending {
		if markedSet[item.ID] {
			frozen = append(frozen, item)
		}
	}

	now := time.Now()
	accounts, err := c.accounts(ctx, siteID, now)
	if err != nil {
		c.rollback(ctx, markedIDs)
		return 0, err
	}

	result, err := distribution.Distribute(candidates(frozen), accounts,
		distribution.Options{Now: now, MaxConsecutiveFailures: c.maxFailures})
	if err != nil {
		c.rollback(ctx, markedIDs)
		return 0, err
	}

	batches, replacements := c.packBatches(siteID, result.Drafts)
	if err := c.db.SwapRebalancing(ctx, frozen, batches, replacements); err != nil {
		c.rollback(ctx, markedIDs)
		return 0, fmt.Errorf("commit phase: %w", err)
	}

	metrics.IncOp("rebalance")
	c.log.Info().
		Int64("site_id", siteID).
		Int("rebalanced", len(frozen)).
		Int("days_needed", result.DaysNeeded).
		Msg("queue rebalanced")

	return len(frozen), nil
}

func (c *Coordinator) rollback(ctx context.Context, markedIDs []int64) {
	if len(markedIDs) == 0 {
		return
	}
	if err := c.db.RevertRebalancing(ctx, markedIDs); err != nil {
		// rows stuck in rebalancing are recoverable by a retry, but loudly
		c.log.Error().Err(err).Int("items", len(markedIDs)).Msg("rebalance rollback failed")
	}
}

func (c *Coordinator) accounts(ctx context.Context, siteID int64, now time.Time) ([]distribution.Account, error) {
	integrations, err := c.db.GetSiteIntegrations(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if len(integrations) == 0 {
		return nil, distribution.ErrNoEligibleIntegrations
	}

	agg, err := c.agg.Aggregate(ctx, siteID, now)
	if err != nil {
		return nil, err
	}
	return distribution.AccountsFromQuota(integrations, agg)
}

func (c *Coordinator) packBatches(siteID int64, drafts []models.QueueItem) ([]models.Batch, []models.QueueItem) {
	byIntegration := make(map[int64]*models.Batch)
	var order []int64
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

	batches := make([]models.Batch, 0, len(order))
	for _, id := range order {
		batches = append(batches, *byIntegration[id])
	}
	return batches, out
}

func candidates(items []models.QueueItem) []models.URLCandidate {
	out := make([]models.URLCandidate, len(items))
	for i, item := range items {
		out[i] = models.URLCandidate{URL: item.URL, PageID: item.PageID}
	}
	return out
}
