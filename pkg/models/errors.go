package models

import "errors"

// Protocol error taxonomy. Flow-control errors (ErrAssignmentNotReady,
// ErrEpochClosed) are retried with backoff by clients; the rest surface to the
// epoch record. Ordinary validation failures are values, not errors.
var (
	// ErrAssignmentNotReady means no epoch is active; miners back off and re-poll.
	ErrAssignmentNotReady = errors.New("assignment not ready")

	// ErrEpochClosed rejects status reports after end_at plus grace.
	ErrEpochClosed = errors.New("epoch closed")

	// ErrEpochNotFound is returned for unknown epoch ids.
	ErrEpochNotFound = errors.New("epoch not found")

	// ErrStorageUnavailable is transient; retried, and a persistently
	// unavailable submission is excluded from the epoch as "unavailable".
	ErrStorageUnavailable = errors.New("object storage unavailable")

	// ErrSchemaInvalid means a submission failed canonical normalization and
	// is excluded from tier 2 onward.
	ErrSchemaInvalid = errors.New("listing schema invalid")

	// ErrScraperTimeout marks an inconclusive spot-check fetch; the selected
	// listing counts as not verified.
	ErrScraperTimeout = errors.New("scraper call timed out")

	// ErrHoneypotTriggered voids a miner's entire epoch submission.
	ErrHoneypotTriggered = errors.New("honeypot zipcode triggered")

	// ErrConsensusFailed suppresses weight publication for the epoch.
	ErrConsensusFailed = errors.New("validator consensus failed")
)
