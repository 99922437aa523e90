// Package distribution implements the deterministic greedy bin-packing of
// URLs over quota-constrained integrations and days. The engine is pure:
// no I/O, no clock reads, no mutation of its inputs.
package distribution

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"indexator/internal/models"
)

var (
	// ErrEmptyURLList means there is nothing to distribute.
	ErrEmptyURLList = errors.New("url list is empty")

	// ErrNoEligibleIntegrations means every integration is inactive,
	// unhealthy or over its failure threshold.
	ErrNoEligibleIntegrations = errors.New("no eligible integrations")
)

// Account pairs a catalog entry with its live day-0 capacity.
type Account struct {
	Integration    models.Integration
	RemainingToday int
}

// Options fixes the reference clock and the eligibility threshold so that
// identical inputs always produce identical output.
type Options struct {
	Now                    time.Time
	MaxConsecutiveFailures int
}

// Result is a computed assignment. Drafts carry integration id and
// scheduled day but no identity yet; persistence assigns ids and batch ids.
type Result struct {
	Drafts        []models.QueueItem
	ByIntegration map[string]int
	DaysNeeded    int
}

// capacityRecord is one slot in the explicitly ordered capacity list. The
// stable comparator below is what makes the assignment reproducible.
type capacityRecord struct {
	integration models.Integration
	capacity    int
}

func eligible(accounts []Account, maxFailures int) []Account {
	out := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		if a.Integration.Eligible(maxFailures) {
			out = append(out, a)
		}
	}
	return out
}

// Validate fails fast before any persisted mutation. Insufficient same-day
// capacity is not a failure: overflow is legitimately pushed to later days.
func Validate(urls []models.URLCandidate, accounts []Account, opts Options) error {
	if len(urls) == 0 {
		return ErrEmptyURLList
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = models.DefaultFailureThreshold
	}
	if len(eligible(accounts, opts.MaxConsecutiveFailures)) == 0 {
		return ErrNoEligibleIntegrations
	}
	return nil
}

// Distribute assigns every URL to an (integration, day) pair. Day 0 fills
// each account's remaining capacity for today; every later day resets to
// the full daily limit. Accounts are filled in order of capacity descending
// with priority then id as tie-breakers.
func Distribute(urls []models.URLCandidate, accounts []Account, opts Options) (*Result, error) {
	if err := Validate(urls, accounts, opts); err != nil {
		return nil, err
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = models.DefaultFailureThreshold
	}

	candidates := eligible(accounts, opts.MaxConsecutiveFailures)

	records := make([]capacityRecord, 0, len(candidates))
	for _, a := range candidates {
		remaining := a.RemainingToday
		if remaining < 0 {
			remaining = 0
		}
		records = append(records, capacityRecord{integration: a.Integration, capacity: remaining})
	}
	sortRecords(records)

	startOfDay := time.Date(opts.Now.Year(), opts.Now.Month(), opts.Now.Day(), 0, 0, 0, 0, opts.Now.Location())

	result := &Result{
		Drafts:        make([]models.QueueItem, 0, len(urls)),
		ByIntegration: make(map[string]int, len(records)),
	}

	day := 0
	for _, u := range urls {
		idx := nextWithCapacity(records)
		for idx < 0 {
			// today is exhausted across every account; roll to the next
			// day where capacity resets to the full daily limit
			day++
			for i := range records {
				records[i].capacity = records[i].integration.DailyLimit
			}
			sortRecords(records)
			idx = nextWithCapacity(records)
		}

		records[idx].capacity--
		in := records[idx].integration
		result.Drafts = append(result.Drafts, models.QueueItem{
			SiteID:        in.SiteID,
			IntegrationID: in.ID,
			PageID:        u.PageID,
			URL:           u.URL,
			Status:        models.ItemPending,
			ScheduledFor:  startOfDay.AddDate(0, 0, day),
		})
		result.ByIntegration[in.Name]++
	}

	result.DaysNeeded = day + 1
	return result, nil
}

func nextWithCapacity(records []capacityRecord) int {
	for i := range records {
		if records[i].capacity > 0 {
			return i
		}
	}
	return -1
}

func sortRecords(records []capacityRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].capacity != records[j].capacity {
			return records[i].capacity > records[j].capacity
		}
		if records[i].integration.Priority != records[j].integration.Priority {
			return records[i].integration.Priority < records[j].integration.Priority
		}
		return records[i].integration.ID < records[j].integration.ID
	})
}

// AccountsFromQuota builds engine inputs from an aggregated quota view and
// the integration catalog it was computed from.
func AccountsFromQuota(integrations []models.Integration, quota *models.AggregatedQuota) ([]Account, error) {
	remaining := make(map[int64]int, len(quota.Integrations))
	for _, s := range quota.Integrations {
		remaining[s.IntegrationID] = s.RemainingToday
	}

	out := make([]Account, 0, len(integrations))
	for _, in := range integrations {
		r, ok := remaining[in.ID]
		if !ok {
			return nil, fmt.Errorf("integration %d missing from quota snapshot", in.ID)
		}
		out = append(out, Account{Integration: in, RemainingToday: r})
	}
	return out, nil
}
