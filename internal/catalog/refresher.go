// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// MinRefreshInterval is the closest two refreshes may be.
	MinRefreshInterval = time.Minute
	refreshTimeout     = 30 * time.Second
)

// Refresher refreshes a Catalog in the background: once at Start, then
// every interval and whenever Trigger is called, but never more than once
// per MinRefreshInterval.
type Refresher struct {
	cat      *Catalog
	src      Source
	interval time.Duration
	limiter  *rate.Limiter
	log      *zap.Logger

	// OnRefresh, if set before Start, receives the list after each refresh.
	OnRefresh func([]Entry)

	trigger chan struct{}
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRefresher creates a stopped refresher. interval <= 0 disables
// periodic refreshes; Trigger still works.
func NewRefresher(cat *Catalog, src Source, interval time.Duration, log *zap.Logger) *Refresher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Refresher{
		cat:      cat,
		src:      src,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(MinRefreshInterval), 1),
		log:      log.Named("catalog"),
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// SetLimit replaces the refresh rate limit. Call before Start.
func (r *Refresher) SetLimit(every rate.Limit, burst int) {
	r.limiter = rate.NewLimiter(every, burst)
}

// Start launches the refresh loop, which runs until Stop or until parent
// is done. Later calls, including after Stop, do nothing.
func (r *Refresher) Start(parent context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	go r.loop(ctx)
}

// Trigger requests a refresh. It never blocks; requests made while one is
// pending are merged.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Stop ends the loop and waits for an in-flight refresh to return.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-r.done
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.done)

	var tick <-chan time.Time
	if r.interval > 0 {
		t := time.NewTicker(r.interval)
		defer t.Stop()
		tick = t.C
	}

	r.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			r.refresh(ctx)
		case <-r.trigger:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	if !r.limiter.Allow() {
		r.log.Debug("refresh skipped, rate limited")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	if err := r.cat.Refresh(ctx, r.src); err != nil {
		if ctx.Err() == nil {
			r.log.Warn("catalog refresh failed", zap.Error(err))
		}
		return
	}
	if r.OnRefresh != nil {
		r.OnRefresh(r.cat.Entries())
	}
}
