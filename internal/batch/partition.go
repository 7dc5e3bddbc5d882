package batch

import (
	"fmt"

	"github.com/lamim/vellumbatch/pkg/models"
)

// SealReason records which condition closed a batch
type SealReason string

const (
	SealCost  SealReason = "cost"  // adding the next request would exceed the cost ceiling
	SealCount SealReason = "count" // the batch reached the count ceiling
	SealFinal SealReason = "final" // the request list ended
)

// Limits bounds each batch. A nil ceiling is unbounded.
type Limits struct {
	CostCeiling  *int
	CountCeiling *int
}

// Validate rejects non-positive ceilings
func (l Limits) Validate() error {
	if l.CostCeiling != nil && *l.CostCeiling <= 0 {
		return fmt.Errorf("cost ceiling must be positive, got %d", *l.CostCeiling)
	}
	if l.CountCeiling != nil && *l.CountCeiling <= 0 {
		return fmt.Errorf("count ceiling must be positive, got %d", *l.CountCeiling)
	}
	return nil
}

// Partition splits requests greedily and in order into sealed batches.
// A request whose cost alone exceeds the cost ceiling forms its own batch;
// no request is ever dropped.
func Partition(reqs []models.Request, limits Limits) []*Batch {
	var (
		batches []*Batch
		current *Batch
	)

	seal := func(reason SealReason) {
		current.SealReason = reason
		current.State = StateSealed
		batches = append(batches, current)
		current = nil
	}

	for _, req := range reqs {
		if current != nil {
			switch {
			case limits.CostCeiling != nil && current.Cost+req.Cost > *limits.CostCeiling:
				seal(SealCost)
			case limits.CountCeiling != nil && len(current.Requests) >= *limits.CountCeiling:
				seal(SealCount)
			}
		}
		if current == nil {
			current = &Batch{Index: len(batches), State: StateAccumulating}
		}
		current.Requests = append(current.Requests, req)
		current.Cost += req.Cost
	}

	if current != nil {
		seal(SealFinal)
	}
	return batches
}
