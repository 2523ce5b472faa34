package ledger

import "fmt"

// AccessDeniedError is returned when the platform refuses to activate a grant
// for a path. It is recoverable: the caller may re-prompt for permission
// through an external channel and resubmit.
type AccessDeniedError struct {
	Path string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied for %q", e.Path)
}

// StaleTokenError reports that the persisted token for a path was stale and
// could not be refreshed. The ledger escalates it to AccessDeniedError after
// one failed refresh; it is surfaced directly only by inspection tooling.
type StaleTokenError struct {
	Path string
}

func (e *StaleTokenError) Error() string {
	return fmt.Sprintf("stale token for %q", e.Path)
}
