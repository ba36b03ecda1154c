package navigator

import (
	"errors"
	"fmt"
)

// Kind classifies navigation failures by how far they escalate.
type Kind int

const (
	// KindUnknown is any error that did not come from this package.
	KindUnknown Kind = iota
	// KindSiteError means the site rendered its own error page. Retrying the
	// same action is pointless; the scan abandons the current location.
	KindSiteError
	// KindNavigationBroken means an expected page never appeared. It ends the
	// current category and, when recovery fails too, the browser session.
	KindNavigationBroken
)

func (k Kind) String() string {
	switch k {
	case KindSiteError:
		return "site_error"
	case KindNavigationBroken:
		return "navigation_broken"
	default:
		return "unknown"
	}
}

// Error is a classified navigation failure.
type Error struct {
	Err  error
	Op   string
	Kind Kind
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var navErr *Error
	if errors.As(err, &navErr) {
		return navErr.Kind
	}
	return KindUnknown
}

// IsSiteError checks if err reports a site-rendered error page.
func IsSiteError(err error) bool {
	return KindOf(err) == KindSiteError
}

// IsNavigationBroken checks if err reports a broken navigation flow.
func IsNavigationBroken(err error) bool {
	return KindOf(err) == KindNavigationBroken
}

func broken(op string, err error) error {
	return &Error{Kind: KindNavigationBroken, Op: op, Err: err}
}
