package extractor

import (
	"strings"

	"github.com/ytget/ytresolve/errs"
)

// Upstream playability statuses.
const (
	statusOK                = "OK"
	statusLoginRequired     = "LOGIN_REQUIRED"
	statusUnplayable        = "UNPLAYABLE"
	statusError             = "ERROR"
	statusLiveOffline       = "LIVE_STREAM_OFFLINE"
	statusAgeCheckRequired  = "AGE_CHECK_REQUIRED"
	statusAgeVerifyRequired = "AGE_VERIFICATION_REQUIRED"
	statusContentCheck      = "CONTENT_CHECK_REQUIRED"

	rentalRenderer = "playerLegacyDesktopYpcOfferRenderer"
)

// playabilityError maps a non-OK playability status to an UNPLAYABLE
// extraction error wrapping the matching sentinel.
func playabilityError(raw *rawPlayerResponse) error {
	ps := raw.PlayabilityStatus
	if ps == nil || ps.Status == "" || ps.Status == statusOK {
		return nil
	}
	reason := strings.ToLower(ps.Reason)
	var cause error
	switch ps.Status {
	case statusLoginRequired:
		switch {
		case strings.Contains(reason, "private"):
			cause = errs.ErrPrivate
		case strings.Contains(reason, "age"):
			cause = errs.ErrAgeRestricted
		default:
			cause = errs.ErrLoginRequired
		}
	case statusAgeCheckRequired, statusAgeVerifyRequired, statusContentCheck:
		cause = errs.ErrAgeRestricted
	case statusLiveOffline:
		cause = errs.ErrLiveNotStarted
	case statusUnplayable:
		switch {
		case ps.ErrorScreen[rentalRenderer] != nil:
			cause = errs.ErrRental
		case strings.Contains(reason, "country"):
			cause = errs.ErrGeoBlocked
		default:
			cause = errs.ErrVideoUnavailable
		}
	default:
		cause = errs.ErrVideoUnavailable
	}
	e := errs.Extraction(errs.CodeUnplayable, ps.Status, cause)
	if ps.Reason != "" {
		e.Message = ps.Status + ": " + ps.Reason
	}
	e.Details = ps.Status
	return e
}
