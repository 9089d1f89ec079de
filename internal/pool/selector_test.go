package pool

import (
	"crypto/rand"
	"math/big"
	"testing"
)

func randomValue(t *testing.T) *big.Int {
	t.Helper()
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		t.Fatalf("rand: %v", err)
	}
	return v
}

func TestSelectWeightedTargetsBoundaries(t *testing.T) {
	items := []*Item{
		{ID: "a", Weight: 3},
		{ID: "b", Weight: 5},
		{ID: "c", Weight: 2},
	}

	// target is randomValue mod 10: 0..2 -> a, 3..7 -> b, 8..9 -> c.
	cases := map[int64]int{0: 0, 2: 0, 3: 1, 7: 1, 8: 2, 9: 2, 10: 0, 13: 1}
	for rv, want := range cases {
		got, err := selectWeightedIndex(items, 10, big.NewInt(rv))
		if err != nil {
			t.Fatalf("select(%d): %v", rv, err)
		}
		if got != want {
			t.Errorf("select(%d) = %d, want %d", rv, got, want)
		}
	}
}

func TestSelectWeightedSkipsConsumed(t *testing.T) {
	items := []*Item{
		{ID: "a", Weight: 3, Consumed: true},
		{ID: "b", Weight: 5},
		{ID: "c", Weight: 2},
	}

	// With a consumed, total weight is 7: 0..4 -> b, 5..6 -> c.
	for rv, want := range map[int64]int{0: 1, 4: 1, 5: 2, 6: 2} {
		got, err := selectWeightedIndex(items, 7, big.NewInt(rv))
		if err != nil {
			t.Fatalf("select(%d): %v", rv, err)
		}
		if got != want {
			t.Errorf("select(%d) = %d, want %d", rv, got, want)
		}
	}
}

func TestSelectWeightedNoWeight(t *testing.T) {
	if _, err := selectWeightedIndex(nil, 0, big.NewInt(1)); err != ErrNoWeight {
		t.Errorf("empty select: got %v, want ErrNoWeight", err)
	}
}

func TestSelectWeightedFrequency(t *testing.T) {
	// Weights 1:9 over 10k trials should land within 10% of expectation.
	items := []*Item{
		{ID: "rare", Weight: 1},
		{ID: "common", Weight: 9},
	}

	const trials = 10000
	counts := make([]int, 2)
	for i := 0; i < trials; i++ {
		idx, err := selectWeightedIndex(items, 10, randomValue(t))
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		counts[idx]++
	}

	expectRare := trials / 10
	if counts[0] < expectRare*9/10 || counts[0] > expectRare*11/10 {
		t.Errorf("rare item selected %d times, expected ~%d +-10%%", counts[0], expectRare)
	}
}

func TestSelectFlat(t *testing.T) {
	tokens := []*FlexToken{
		{ID: "t0"},
		{ID: "t1", Consumed: true},
		{ID: "t2"},
	}

	// Two unconsumed: target 0 -> index 0, target 1 -> index 2.
	got, err := selectFlatIndex(tokens, big.NewInt(0))
	if err != nil || got != 0 {
		t.Errorf("flat(0) = %d, %v; want 0, nil", got, err)
	}
	got, err = selectFlatIndex(tokens, big.NewInt(1))
	if err != nil || got != 2 {
		t.Errorf("flat(1) = %d, %v; want 2, nil", got, err)
	}
	got, err = selectFlatIndex(tokens, big.NewInt(2))
	if err != nil || got != 0 {
		t.Errorf("flat(2) = %d, %v; want 0, nil", got, err)
	}
}

func TestSelectFlatExhausted(t *testing.T) {
	tokens := []*FlexToken{{ID: "t0", Consumed: true}}
	if _, err := selectFlatIndex(tokens, big.NewInt(0)); err != ErrNoFlexTokens {
		t.Errorf("exhausted flat select: got %v, want ErrNoFlexTokens", err)
	}
}
