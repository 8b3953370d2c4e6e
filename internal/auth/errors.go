package auth

import (
	"errors"
	"fmt"
)

// ReauthRequiredError signals that the tenant's grant is unusable and the
// user must walk the authorize flow again. It carries the URL to send them to.
type ReauthRequiredError struct {
	InstallID string
	ReauthURL string
}

func (e *ReauthRequiredError) Error() string {
	return fmt.Sprintf("reauthorization required for install %s", e.InstallID)
}

// IsReauthRequired reports whether err is (or wraps) a ReauthRequiredError,
// returning the typed error when so.
func IsReauthRequired(err error) (*ReauthRequiredError, bool) {
	var re *ReauthRequiredError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
