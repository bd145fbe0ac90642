package services

import (
	"context"
	"log"
	"time"

	store "github.com/saccosmart/saccosmart-go/store"
)

// Sweeper fails PENDING contributions that never received a settlement
// event. It reuses the store's conditional status=PENDING update, so a real
// settlement racing the sweep always wins.
type Sweeper struct {
	store    store.ContributionStore
	interval time.Duration
	maxAge   time.Duration
}

func NewSweeper(st store.ContributionStore, interval, maxAge time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Sweeper{store: st, interval: interval, maxAge: maxAge}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce fails every PENDING record older than maxAge.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.maxAge)
	swept, err := s.store.ExpirePending(ctx, cutoff, "expired: no settlement received")
	if err != nil {
		log.Printf("component=sweeper err=%v", err)
		return
	}
	if swept > 0 {
		log.Printf("component=sweeper swept=%d cutoff=%s", swept, cutoff.Format(time.RFC3339))
	}
}
