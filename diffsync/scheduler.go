// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package diffsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/singleflight"
)

// ErrSchedulerShuttingDown is returned by SyncNow once Stop was called.
var ErrSchedulerShuttingDown = errors.New("sync scheduler shutting down")

// Source is an external set that can only be read as a whole.
type Source interface {
	// Scan returns the complete current content of the source.
	Scan(ctx context.Context) ([]Item, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]Item, error)

// Scan implements Source.
func (f SourceFunc) Scan(ctx context.Context) ([]Item, error) {
	return f(ctx)
}

// SchedulerConfig holds the dependencies of a Scheduler.
type SchedulerConfig struct {
	// Collection is the set kept in sync.
	Collection *Collection

	// Source is rescanned on every pass.
	Source Source

	// Ticker paces the periodic passes.
	Ticker ticker.Ticker

	// Clock provides scan timestamps.
	Clock clock.Clock

	// OnDiff, if set, is called with every non-empty diff.
	OnDiff func(*Diff)
}

// Scheduler rescans a source periodically and on demand, reconciling the
// collection after every scan.  Concurrent on-demand requests share a
// single pass.
type Scheduler struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg SchedulerConfig

	group singleflight.Group

	// lastTs is the timestamp of the last pass started by this
	// scheduler.  It is guarded by tsMtx.
	tsMtx  sync.Mutex
	lastTs int64

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler.  Start must be called to begin periodic
// passes.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Scheduler{
		cfg:  cfg,
		quit: make(chan struct{}),
	}
}

// Start begins the periodic passes.
func (s *Scheduler) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	log.Infof("Starting sync of %s", s.cfg.Collection.Name())

	s.cfg.Ticker.Resume()

	s.wg.Add(1)
	go s.syncHandler()

	return nil
}

// Stop ends the periodic passes and waits for a running pass to finish.
func (s *Scheduler) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Infof("Stopping sync of %s", s.cfg.Collection.Name())

	close(s.quit)
	s.cfg.Ticker.Stop()
	s.wg.Wait()

	return nil
}

// syncHandler runs a pass on every tick.  It must be run as a goroutine.
func (s *Scheduler) syncHandler() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-s.cfg.Ticker.Ticks():
			if _, err := s.SyncNow(ctx); err != nil &&
				!errors.Is(err, context.Canceled) {

				log.Errorf("Unable to sync %s: %v",
					s.cfg.Collection.Name(), err)
			}

		case <-s.quit:
			return
		}
	}
}

// SyncNow scans the source and reconciles the collection.  If a pass is
// already running the caller waits for it and receives its result.
func (s *Scheduler) SyncNow(ctx context.Context) (*Diff, error) {
	if s.stopped.Load() {
		return nil, ErrSchedulerShuttingDown
	}

	v, err, shared := s.group.Do(s.cfg.Collection.Name(), func() (any,
		error) {

		return s.sync(ctx)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Tracef("Joined running sync of %s",
			s.cfg.Collection.Name())
	}

	return v.(*Diff), nil
}

// sync performs one pass.
func (s *Scheduler) sync(ctx context.Context) (*Diff, error) {
	items, err := s.cfg.Source.Scan(ctx)
	if err != nil {
		return nil, err
	}

	ts, err := s.nextTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	diff, err := s.cfg.Collection.Reconcile(ctx, items, ts)
	if err != nil {
		return nil, err
	}

	if !diff.IsEmpty() && s.cfg.OnDiff != nil {
		s.cfg.OnDiff(diff)
	}

	return diff, nil
}

// nextTimestamp returns the clock time in milliseconds, bumped past the
// last scan of the collection if the clock did not move forward.
func (s *Scheduler) nextTimestamp(ctx context.Context) (int64, error) {
	s.tsMtx.Lock()
	defer s.tsMtx.Unlock()

	if s.lastTs == 0 {
		last, err := s.cfg.Collection.LastScan(ctx)
		if err != nil {
			return 0, err
		}
		s.lastTs = last.UnwrapOr(0)
	}

	ts := s.cfg.Clock.Now().UnixMilli()
	if ts <= s.lastTs {
		ts = s.lastTs + 1
	}
	s.lastTs = ts

	return ts, nil
}
