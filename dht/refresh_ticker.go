package dht

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RefreshTicker periodically drives RefreshBucketsBeyondClosest for a
// Router. It is off by default: nothing in Router starts one implicitly,
// since nothing elsewhere decides how often bucket refresh should run. A
// caller that wants periodic maintenance constructs one explicitly with
// NewRefreshTicker and calls Start.
type RefreshTicker struct {
	router   *Router
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewRefreshTicker builds a RefreshTicker for router, firing every
// interval once started.
func NewRefreshTicker(router *Router, interval time.Duration) *RefreshTicker {
	return &RefreshTicker{
		router:   router,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the ticker loop in its own goroutine until ctx is done or
// Stop is called. Start must be called at most once per RefreshTicker.
func (t *RefreshTicker) Start(ctx context.Context) {
	go t.run(ctx)
}

func (t *RefreshTicker) run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.router.RefreshBucketsBeyondClosest(ctx); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "RefreshTicker.run",
					"error":    err.Error(),
				}).Warn("bucket refresh pass failed")
			}
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the ticker loop and blocks until its goroutine has exited.
// Calling Stop more than once panics, matching close's own semantics.
func (t *RefreshTicker) Stop() {
	close(t.stop)
	<-t.done
}
