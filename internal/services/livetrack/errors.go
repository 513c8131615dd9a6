package livetrack

import "github.com/pkg/errors"

var (
	// ErrNotFound: the tracking key resolves to neither a livraison nor a
	// planification with a livraison.
	ErrNotFound = errors.New("tracking key not found")

	// ErrIncompleteChain: a livraison references a planification chain that
	// cannot be loaded. Data integrity issue; surfaced as not-found.
	ErrIncompleteChain = errors.New("incomplete planification chain")

	ErrInvalidPosition = errors.New("position out of range")
	ErrInvalidStatus   = errors.New("unknown livraison status")

	// ErrStaleReport: the monotonic guard rejected a report older than the
	// last accepted one. Only produced when reject_stale_reports is on.
	ErrStaleReport = errors.New("position report older than last accepted")

	ErrTerminalStatus    = errors.New("livraison already in a terminal status")
	ErrPlanningCancelled = errors.New("planification is cancelled")
	ErrRateLimited       = errors.New("position report rate limit exceeded")
)
