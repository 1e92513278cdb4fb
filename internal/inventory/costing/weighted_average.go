package costing

import "github.com/shopspring/decimal"

// WeightedAverageName identifies the weighted-average policy.
const WeightedAverageName = "weighted_average"

// WeightedAverage recomputes unit cost as a running volume-weighted average on
// every receipt. Issues leave the average untouched.
type WeightedAverage struct{}

// Name implements Policy.
func (WeightedAverage) Name() string { return WeightedAverageName }

// Receive adds qty at unitCost.
func (WeightedAverage) Receive(s Snapshot, qty, unitCost decimal.Decimal) Result {
	total := qty.Mul(unitCost)
	after := Snapshot{
		Quantity: s.Quantity.Add(qty),
		Value:    s.Value.Add(total),
		AvgCost:  s.AvgCost,
	}
	if after.Quantity.IsPositive() {
		after.AvgCost = average(after.Value, after.Quantity)
	}
	return Result{After: after, UnitCost: unitCost, TotalCost: total}
}

// Issue removes qty at the current average cost. Draining the balance to
// exactly zero charges whatever value remains so no residue is left behind.
func (WeightedAverage) Issue(s Snapshot, qty decimal.Decimal) Result {
	unitCost := s.AvgCost
	total := qty.Mul(unitCost)
	after := Snapshot{
		Quantity: s.Quantity.Sub(qty),
		AvgCost:  s.AvgCost,
	}
	if after.Quantity.IsZero() && s.Quantity.IsPositive() {
		total = s.Value
	}
	after.Value = s.Value.Sub(total)
	return Result{After: after, UnitCost: unitCost, TotalCost: total}
}

// Reverse undoes m. When nothing touched the balance since m, the recorded
// before-state is restored verbatim; otherwise the inverse formula is applied.
func (WeightedAverage) Reverse(s Snapshot, m Applied) Snapshot {
	if s.Equal(m.After) {
		return m.Before
	}
	if m.Quantity.IsPositive() {
		after := Snapshot{
			Quantity: s.Quantity.Sub(m.Quantity),
			Value:    s.Value.Sub(m.TotalCost),
			AvgCost:  s.AvgCost,
		}
		switch {
		case after.Quantity.IsPositive():
			after.AvgCost = average(after.Value, after.Quantity)
		case after.Quantity.IsZero():
			after.AvgCost = m.Before.AvgCost
			after.Value = decimal.Zero
		}
		return after
	}
	qty := m.Quantity.Neg()
	after := Snapshot{
		Quantity: s.Quantity.Add(qty),
		Value:    s.Value.Add(m.TotalCost),
		AvgCost:  s.AvgCost,
	}
	if after.Quantity.IsPositive() {
		after.AvgCost = average(after.Value, after.Quantity)
	}
	return after
}

// Restate sets the balance outright to qty valued at unitCost.
func (WeightedAverage) Restate(s Snapshot, qty, unitCost decimal.Decimal) Snapshot {
	after := Snapshot{Quantity: qty, Value: qty.Mul(unitCost), AvgCost: s.AvgCost}
	if qty.IsPositive() {
		after.AvgCost = unitCost.Round(AverageCostScale)
	}
	return after
}

func average(value, qty decimal.Decimal) decimal.Decimal {
	return value.DivRound(qty, AverageCostScale)
}
