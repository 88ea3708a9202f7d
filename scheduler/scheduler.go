// Package scheduler implements the adaptive per-governor polling loop (C4):
// one goroutine per enabled governor, each repeatedly windowing its adapter,
// persisting what it found, and adjusting cursor/refresh speed, grounded on
// oracle-attesterd/main.go's signal-driven run loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"governanceagg/adapters"
	"governanceagg/observability"
	"governanceagg/persist"
	"governanceagg/store"
)

// AdapterFor resolves the ProposalsAndVotesIndexer for a governor row. The
// scheduler is adapter-agnostic: callers wire up one resolver covering every
// configured variant (on-chain governor, Snapshot, council-election, etc).
type AdapterFor func(governor *store.Governor) (adapters.ProposalsAndVotesIndexer, error)

// describer is the optional adapter capability exposing its static
// metadata; adapters without it run under the default window timeout.
type describer interface {
	Describe() adapters.Descriptor
}

// discoveryInterval is how often the scheduler re-reads the governor table
// so newly enabled rows are picked up without a restart.
const discoveryInterval = 30 * time.Second

// errorBackoffBase and errorBackoffCap bound the per-governor exponential
// backoff between failed windows.
const (
	errorBackoffBase = 5 * time.Second
	errorBackoffCap  = 5 * time.Minute
)

// Scheduler runs the polling loop for every enabled governor of one DAO set.
type Scheduler struct {
	db         *gorm.DB
	store      *persist.Store
	adapterFor AdapterFor
	log        *slog.Logger
	baseTick   time.Duration

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

// New builds a Scheduler.
func New(db *gorm.DB, adapterFor AdapterFor, log *slog.Logger, baseTick time.Duration) *Scheduler {
	return &Scheduler{
		db:         db,
		store:      persist.NewStore(db),
		adapterFor: adapterFor,
		log:        log,
		baseTick:   baseTick,
		running:    make(map[string]bool),
	}
}

// Run discovers enabled governors on a fixed cadence, spawning one polling
// goroutine per new row, and blocks until ctx is canceled and every
// goroutine drains.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.discover(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-ticker.C:
			if err := s.discover(ctx); err != nil {
				s.log.Error("governor discovery failed", "error", err)
			}
		}
	}
}

// discover loads every enabled governor and starts loops for rows not yet
// running. Loops for rows disabled since the last pass exit on their own
// once they reload the row.
func (s *Scheduler) discover(ctx context.Context) error {
	var governors []store.Governor
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Find(&governors).Error; err != nil {
		return fmt.Errorf("scheduler: load governors: %w", err)
	}

	for i := range governors {
		governor := governors[i]
		id := governor.ID.String()

		s.mu.Lock()
		if s.running[id] {
			s.mu.Unlock()
			continue
		}
		s.running[id] = true
		count := len(s.running)
		s.mu.Unlock()

		observability.Scheduler().SetActiveGovernors(count)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.running, id)
				count := len(s.running)
				s.mu.Unlock()
				observability.Scheduler().SetActiveGovernors(count)
			}()
			s.runGovernor(ctx, id)
		}()
	}
	return nil
}

func (s *Scheduler) runGovernor(ctx context.Context, governorID string) {
	logger := s.log.With("governor", governorID)

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// The row is reloaded every iteration: the cursor and speed written
		// by the previous window, and the enabled flag an operator may have
		// flipped, all live in the database, not in this goroutine.
		var governor store.Governor
		if err := s.db.WithContext(ctx).First(&governor, "id = ?", governorID).Error; err != nil {
			logger.Error("reload governor failed", "error", err)
			if !sleepCtx(ctx, s.baseTick) {
				return
			}
			continue
		}
		if !governor.Enabled {
			logger.Info("governor disabled, stopping its loop")
			return
		}

		adapter, err := s.adapterFor(&governor)
		if err != nil {
			logger.Error("no adapter resolved for governor", "error", err)
			return
		}

		err = s.tick(ctx, &governor, adapter, logger)
		if err != nil {
			failures++
			if !sleepCtx(ctx, errorBackoff(failures)) {
				return
			}
			continue
		}
		failures = 0

		if !sleepCtx(ctx, s.baseTick) {
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, governor *store.Governor, adapter adapters.ProposalsAndVotesIndexer, logger *slog.Logger) error {
	timeout := adapters.DefaultTimeout
	if d, ok := adapter.(describer); ok && d.Describe().Timeout > 0 {
		timeout = d.Describe().Timeout
	}
	windowCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := s.runWindow(windowCtx, governor, adapter)
	observability.Scheduler().ObserveWindow(governor.ID.String(), time.Since(start), err)

	if err != nil {
		if errors.Is(err, persist.ErrMissingProposals) {
			logger.Warn("votes window deferred, proposals not yet indexed", "error", err)
		} else {
			logger.Error("window failed", "error", err)
		}
		if retreatErr := s.store.RetreatSpeed(ctx, governor.ID.String()); retreatErr != nil {
			logger.Error("failed to shrink refresh speed", "error", retreatErr)
		}
		return err
	}
	return nil
}

func (s *Scheduler) runWindow(ctx context.Context, governor *store.Governor, adapter adapters.ProposalsAndVotesIndexer) error {
	var dao store.DAO
	if err := s.db.WithContext(ctx).First(&dao, "id = ?", governor.DAOID).Error; err != nil {
		return fmt.Errorf("load dao: %w", err)
	}

	proposalResult, err := adapter.ProcessProposals(ctx, governor, &dao)
	if err != nil {
		return fmt.Errorf("process proposals: %w", err)
	}
	if err := s.store.StoreProposals(ctx, governor, proposalResult.Proposals); err != nil {
		return fmt.Errorf("store proposals: %w", err)
	}

	voteResult, err := adapter.ProcessVotes(ctx, governor)
	if err != nil {
		return fmt.Errorf("process votes: %w", err)
	}
	if err := s.store.StoreVotes(ctx, governor, voteResult.Votes); err != nil {
		return fmt.Errorf("store votes: %w", err)
	}

	nextCursor := proposalResult.SuggestedCursor
	if voteResult.SuggestedCursor > nextCursor {
		nextCursor = voteResult.SuggestedCursor
	}
	if err := s.store.AdvanceWindow(ctx, governor.ID.String(), nextCursor); err != nil {
		return fmt.Errorf("advance window: %w", err)
	}

	observability.Scheduler().SetGovernorSpeed(governor.ID.String(), governor.Speed)
	return nil
}

// errorBackoff returns the exponential, capped delay before retrying after
// the nth consecutive failure.
func errorBackoff(failures int) time.Duration {
	d := errorBackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= errorBackoffCap {
			return errorBackoffCap
		}
	}
	if d > errorBackoffCap {
		return errorBackoffCap
	}
	return d
}

// sleepCtx sleeps for d, returning false if ctx was canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
