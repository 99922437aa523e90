package models

// ItemStatus is a queue item status. The set is closed; transitions go
// through CanTransition so that illegal moves are rejected before they
// reach the store.
type ItemStatus string

const (
	ItemPending     ItemStatus = "pending"
	ItemProcessing  ItemStatus = "processing"
	ItemCompleted   ItemStatus = "completed"
	ItemFailed      ItemStatus = "failed"
	ItemCancelled   ItemStatus = "cancelled"
	ItemRebalancing ItemStatus = "rebalancing"
)

// itemTransitions is the full transition table. rebalancing is transient:
// it either goes back to pending (rollback) or the row is deleted after
// its replacement has been committed.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemPending:     {ItemProcessing, ItemCancelled, ItemRebalancing},
	ItemProcessing:  {ItemCompleted, ItemFailed, ItemPending},
	ItemRebalancing: {ItemPending},
	ItemCompleted:   {},
	ItemFailed:      {},
	ItemCancelled:   {},
}

func (s ItemStatus) Valid() bool {
	_, ok := itemTransitions[s]
	return ok
}

// CanTransition reports whether s -> to is a legal move.
// processing -> pending is the retry requeue path.
func (s ItemStatus) CanTransition(to ItemStatus) bool {
	for _, next := range itemTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s ItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemFailed || s == ItemCancelled
}

// BatchStatus is a batch status with its own closed transition set.
type BatchStatus string

const (
	BatchQueued     BatchStatus = "queued"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchCancelled  BatchStatus = "cancelled"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchQueued:     {BatchProcessing, BatchCompleted, BatchCancelled},
	BatchProcessing: {BatchCompleted, BatchCancelled},
	BatchCompleted:  {},
	BatchCancelled:  {},
}

func (s BatchStatus) Valid() bool {
	_, ok := batchTransitions[s]
	return ok
}

func (s BatchStatus) CanTransition(to BatchStatus) bool {
	for _, next := range batchTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
