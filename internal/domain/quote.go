package domain

import "time"

// Quote is a single valuation snapshot for an asset. The feed is pull-based;
// staleness tolerance is the caller's decision, so the observation time is
// always carried alongside the price.
type Quote struct {
	Symbol     string    // Venue symbol the price was observed for
	Price      Money     // Last observed price
	ObservedAt time.Time // When the price was observed
}

// Age returns how stale the quote is relative to now.
func (q *Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}
