// Package persist implements the storage layer (C3): mapping adapter
// records onto store rows, the cross-source vote/proposal binding rule, and
// the job queue's claim/complete protocol. Grounded on
// services/otc-gateway/recon/reconciler.go's GORM query style.
package persist

import "errors"

// ErrMissingProposals is returned by StoreVotes when one or more votes in a
// batch reference a proposal external_id persistence has never seen for the
// bound governor variant. Per the whole-batch-abort rule, none of the batch
// is committed.
var ErrMissingProposals = errors.New("persist: batch references unknown proposals")

// ErrGovernorNotFound is returned when an operation names a governor row
// that does not exist.
var ErrGovernorNotFound = errors.New("persist: governor not found")

// ErrNoJobAvailable is returned by ClaimBatch when the queue has no pending
// job for the caller to claim.
var ErrNoJobAvailable = errors.New("persist: no job available")
