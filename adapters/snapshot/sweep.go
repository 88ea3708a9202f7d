package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"governanceagg/persist"
	"governanceagg/store"
)

// shutterRevealAttempts bounds how many sweep passes a hidden-choice vote is
// retried for before the sweeper gives up on that proposal's reveal.
const shutterRevealAttempts = 15

// shutterRevealSpacing is the minimum gap between reveal attempts for the
// same proposal.
const shutterRevealSpacing = 60 * time.Second

// Sweeper periodically refetches votes for shutter-privacy proposals whose
// voting period ended recently, since Snapshot only decrypts individual
// choices once voting closes.
type Sweeper struct {
	db       *gorm.DB
	store    *persist.Store
	adapter  *Adapter
	log      *slog.Logger
	attempts map[string]int
}

// NewSweeper builds a Sweeper bound to one Snapshot Adapter.
func NewSweeper(db *gorm.DB, adapter *Adapter, log *slog.Logger) *Sweeper {
	return &Sweeper{db: db, store: persist.NewStore(db), adapter: adapter, log: log, attempts: make(map[string]int)}
}

// Sweep finds shutter-privacy proposals for the given governor whose voting
// ended within the last two hours and retries the reveal. The filter is on
// the proposal's privacy metadata and its ended window, not its state:
// Snapshot reports a just-ended shutter proposal as plain "closed", so by
// the time choices become decryptable the stored state no longer says
// anything about privacy.
func (s *Sweeper) Sweep(ctx context.Context, governor *store.Governor) error {
	now := time.Now()
	cutoff := now.Add(-2 * time.Hour)

	var proposals []store.Proposal
	err := s.db.WithContext(ctx).
		Where("governor_id = ? AND metadata->>'privacy' = ? AND end_at BETWEEN ? AND ?", governor.ID, shutterPrivacy, cutoff, now).
		Find(&proposals).Error
	if err != nil {
		return fmt.Errorf("snapshot: load ended shutter proposals: %w", err)
	}

	for _, proposal := range proposals {
		if s.attempts[proposal.ExternalID] >= shutterRevealAttempts {
			continue
		}
		s.attempts[proposal.ExternalID]++

		votes, err := s.adapter.ProcessProposalVotes(ctx, governor, &proposal)
		if err != nil {
			s.log.Warn("shutter reveal attempt failed", "proposal", proposal.ExternalID, "attempt", s.attempts[proposal.ExternalID], "error", err)
			continue
		}

		stillHidden := false
		for _, v := range votes {
			if v.Choice.IsHidden() {
				stillHidden = true
				break
			}
		}
		if err := s.store.StoreVotes(ctx, governor, votes); err != nil {
			s.log.Warn("shutter reveal store failed", "proposal", proposal.ExternalID, "error", err)
			continue
		}
		if !stillHidden {
			// Fully revealed: exhaust the budget so later ticks inside the
			// two-hour window stop refetching this proposal.
			s.attempts[proposal.ExternalID] = shutterRevealAttempts
		}

		if err := sleepCtx(ctx, shutterRevealSpacing); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
