package drive

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

var (
	// ErrAuth means the credentials are revoked or otherwise unusable; the
	// teacher must re-consent before sync can resume.
	ErrAuth = errors.New("drive credentials rejected")

	// ErrNotFound means the folder or channel is no longer accessible
	// (deleted, or permission revoked).
	ErrNotFound = errors.New("drive resource not found")

	// ErrQuota is a transient rate or quota rejection; retry on the next
	// scheduled run.
	ErrQuota = errors.New("drive quota exceeded")

	// ErrNetwork is a transient transport failure.
	ErrNetwork = errors.New("drive request failed")

	// ErrInvalidFolderURL means the supplied folder URL matched no known
	// Drive URL shape.
	ErrInvalidFolderURL = errors.New("invalid drive folder url")
)

var quotaReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
}

// classify maps provider errors onto the package taxonomy. Unrecognized
// failures are treated as transient network errors.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch {
		case gErr.Code == 401:
			return fmt.Errorf("%w: %v", ErrAuth, err)
		case gErr.Code == 404:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case gErr.Code == 429:
			return fmt.Errorf("%w: %v", ErrQuota, err)
		case gErr.Code == 403:
			for _, e := range gErr.Errors {
				if quotaReasons[e.Reason] {
					return fmt.Errorf("%w: %v", ErrQuota, err)
				}
			}
			// Non-quota 403 means access to the resource was revoked.
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}

	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		// invalid_grant covers revoked and expired refresh tokens.
		if rErr.ErrorCode == "invalid_grant" || rErr.Response != nil && rErr.Response.StatusCode == 401 {
			return fmt.Errorf("%w: %v", ErrAuth, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// IsTransient reports whether the error should be left for the next
// scheduled run rather than marking the record as failed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrQuota) || errors.Is(err, ErrNetwork)
}
