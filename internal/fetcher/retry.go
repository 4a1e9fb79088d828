package fetcher

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Policy describes how many attempts a unit gets and how long to wait
// between them.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	RateLimitDelay time.Duration
	MaxJitter      time.Duration
	MaxDelay       time.Duration
}

// DefaultPolicy mirrors the service defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      5 * time.Second,
		RateLimitDelay: 2 * time.Second,
		MaxJitter:      2 * time.Second,
		MaxDelay:       2 * time.Minute,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 2 * time.Minute
	}
	return p
}

// Exponential returns BaseDelay*2^step plus jitter, capped at MaxDelay.
func (p Policy) Exponential(step int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(step))
	return p.capped(time.Duration(delay)) + p.jitter()
}

// Linear returns RateLimitDelay*(step+1) plus jitter, capped at MaxDelay.
func (p Policy) Linear(step int) time.Duration {
	return p.capped(p.RateLimitDelay*time.Duration(step+1)) + p.jitter()
}

func (p Policy) capped(d time.Duration) time.Duration {
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) jitter() time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(p.MaxJitter)))
	if err != nil {
		return p.MaxJitter / 2
	}
	return time.Duration(n.Int64())
}
