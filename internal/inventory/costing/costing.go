// Package costing computes unit cost and valuation for stock movements.
//
// Functions here are pure: they take a balance snapshot and a movement and
// return the snapshot after the movement. Persistence and concurrency are the
// ledger's concern.
package costing

import (
	"errors"

	"github.com/shopspring/decimal"
)

const (
	// QuantityScale is the number of fractional digits carried for quantities.
	QuantityScale int32 = 3
	// AverageCostScale is the number of fractional digits carried for average unit cost.
	AverageCostScale int32 = 4
	// CurrencyScale is used for currency-facing totals such as journal amounts.
	CurrencyScale int32 = 2
)

// ErrUnknownPolicy is returned by Lookup for unregistered policy names.
var ErrUnknownPolicy = errors.New("costing: unknown policy")

// Snapshot is the valuation state of a single balance.
type Snapshot struct {
	Quantity decimal.Decimal
	Value    decimal.Decimal
	AvgCost  decimal.Decimal
}

// AverageRoundingStep is the largest error rounding the average to
// AverageCostScale introduces per unit of quantity.
var AverageRoundingStep = decimal.New(5, -(AverageCostScale + 1))

// Drift returns value - quantity*avg_cost.
func (s Snapshot) Drift() decimal.Decimal {
	return s.Value.Sub(s.Quantity.Mul(s.AvgCost))
}

// Consistent reports whether Drift stays within tolerance plus the rounding
// allowance of the average, which grows with quantity.
func (s Snapshot) Consistent(tolerance decimal.Decimal) bool {
	allowed := tolerance.Add(s.Quantity.Abs().Mul(AverageRoundingStep))
	return s.Drift().Abs().LessThanOrEqual(allowed)
}

// Equal reports whether both snapshots carry the same figures.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.Quantity.Equal(other.Quantity) && s.Value.Equal(other.Value) && s.AvgCost.Equal(other.AvgCost)
}

// Result is the outcome of applying one movement to a snapshot.
type Result struct {
	After Snapshot
	// UnitCost is the cost per unit charged to (or carried by) the movement.
	UnitCost decimal.Decimal
	// TotalCost is the absolute value moved in or out of the balance.
	TotalCost decimal.Decimal
}

// Applied describes a movement that was previously applied, for reversal.
type Applied struct {
	// Quantity is signed: positive for inbound, negative for outbound.
	Quantity  decimal.Decimal
	TotalCost decimal.Decimal
	Before    Snapshot
	After     Snapshot
}

// Policy is the seam for valuation methods. The ledger depends only on this
// interface, so alternative methods slot in without changing its contract.
type Policy interface {
	Name() string
	Receive(s Snapshot, qty, unitCost decimal.Decimal) Result
	Issue(s Snapshot, qty decimal.Decimal) Result
	Reverse(s Snapshot, m Applied) Snapshot
	Restate(s Snapshot, qty, unitCost decimal.Decimal) Snapshot
}

// Lookup returns the policy registered under name. An empty name yields the default.
func Lookup(name string) (Policy, error) {
	switch name {
	case "", WeightedAverageName:
		return WeightedAverage{}, nil
	default:
		return nil, ErrUnknownPolicy
	}
}
