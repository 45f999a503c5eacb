package remote

import "errors"

// Error kinds surfaced by remote store adapters.
//
// Adapters must map their transport's failures onto these sentinels so
// the engine can tell apart what is terminal, what resolves itself on
// the next trigger, and what needs a full sync. Check with errors.Is:
//
//	if errors.Is(err, remote.ErrRemoteConflict) {
//	    // a write lost the optimistic-concurrency race
//	}
var (
	// ErrAuthentication is returned when the credential is bad or
	// expired. Terminal: requires reconfiguration, never retried.
	ErrAuthentication = errors.New("authentication failed")

	// ErrAccessDenied is returned when the credential lacks the scope
	// or repository access the operation needs. Terminal.
	ErrAccessDenied = errors.New("access denied")

	// ErrRateLimited is returned when the store rejects the request
	// for quota reasons. The periodic trigger cadence acts as the
	// backoff; no internal retry loop.
	ErrRateLimited = errors.New("rate limited")

	// ErrRemoteConflict is returned when a conditional write's
	// expected revision is stale: someone else wrote the file since we
	// last saw it. Distinct from a semantic merge conflict.
	ErrRemoteConflict = errors.New("remote write conflict")

	// ErrNotFound is returned when the repository, branch, or path
	// does not exist. Terminal.
	ErrNotFound = errors.New("not found")

	// ErrTransport is returned for network and other transient
	// failures. Retried by the natural retrigger cadence.
	ErrTransport = errors.New("transport error")
)

// IsTerminal reports whether the error requires user reconfiguration
// rather than a retry.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the next debounce or alarm tick is
// likely to succeed without user action.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransport)
}
