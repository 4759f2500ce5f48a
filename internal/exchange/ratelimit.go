package exchange

import (
	"golang.org/x/time/rate"
)

// RateLimiter paces requests per Kalshi endpoint class. Limits sit below
// the basic tier (20 reads/s, 10 writes/s) so bursts from the ingest loop
// do not trip 429s.
type RateLimiter struct {
	Read  *rate.Limiter // market data and portfolio reads
	Write *rate.Limiter // order placement
}

// NewRateLimiter creates limiters tuned to the basic access tier.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Read:  rate.NewLimiter(12, 6),
		Write: rate.NewLimiter(6, 3),
	}
}
