package draws

import "github.com/lootlabs/drawpool/internal/metrics"

func observeOpened(kind Kind) {
	metrics.DrawsOpenedTotal.WithLabelValues(string(kind)).Inc()
}

func observeFulfilled(kind Kind, o *Outcome) {
	outcome := "payout"
	switch {
	case o.Nothing:
		outcome = "nothing"
	case len(o.Tokens) > 0:
		outcome = "item"
	}
	metrics.DrawsFulfilledTotal.WithLabelValues(string(kind), outcome).Inc()
}

func observeCancelled(Kind) {
	metrics.DrawsCancelledTotal.Inc()
}

func observeRetried(Kind) {
	metrics.DrawsRetriedTotal.Inc()
}

func (s *Service) publishPending() {
	metrics.PendingDraws.Set(float64(s.pendingFixed.Load() + s.pendingFlex.Load()))
}
