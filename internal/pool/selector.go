package pool

import "math/big"

// selectWeightedIndex picks an unconsumed item by cumulative weight.
//
// target = randomValue mod totalWeight; items are scanned in deposit order,
// skipping consumed ones, and the first item whose cumulative weight exceeds
// target wins. Deterministic for a fixed random value, and the cost is the
// scan distance to the selected item (pool sizes are capped at deposit time
// for exactly this reason).
//
// ErrSelectionFailed is returned only if the aggregates disagree with the
// item list; given the pool invariants it is unreachable.
func selectWeightedIndex(items []*Item, totalWeight int64, randomValue *big.Int) (int, error) {
	if totalWeight <= 0 {
		return 0, ErrNoWeight
	}

	target := new(big.Int).Mod(randomValue, big.NewInt(totalWeight)).Int64()

	var cumulative int64
	for i, item := range items {
		if item.Consumed {
			continue
		}
		cumulative += item.Weight
		if cumulative > target {
			return i, nil
		}
	}
	return 0, ErrSelectionFailed
}

// selectFlatIndex picks an unconsumed token uniformly: target = randomValue
// mod remaining, returning the target-th unconsumed entry in deposit order.
func selectFlatIndex(tokens []*FlexToken, randomValue *big.Int) (int, error) {
	var remaining int64
	for _, t := range tokens {
		if !t.Consumed {
			remaining++
		}
	}
	if remaining == 0 {
		return 0, ErrNoFlexTokens
	}

	target := new(big.Int).Mod(randomValue, big.NewInt(remaining)).Int64()

	var seen int64
	for i, t := range tokens {
		if t.Consumed {
			continue
		}
		if seen == target {
			return i, nil
		}
		seen++
	}
	return 0, ErrSelectionFailed
}
