package errors

import (
	"errors"
	"net/http"
)

// Sentinel errors for license conditions. Business-rule rejections from
// the activation ledger are structured results rather than errors; these
// sentinels cover the service layer's hard failures.
var (
	ErrFingerprintUnavailable = errors.New("device fingerprint unavailable")
	ErrActivationBlocked      = errors.New("too many activation attempts")
)

// License-specific HTTP responses for the ledger's rejection codes. The
// device-limit rejection is built per-request so it can carry the limit
// and the record.
var (
	ErrInvalidLicenseKeyResponse = New(http.StatusBadRequest, "INVALID_LICENSE_KEY",
		"The provided license key is invalid or malformed")

	ErrLicenseExpiredResponse = New(http.StatusForbidden, "LICENSE_EXPIRED",
		"Your license has expired. Please renew to continue")

	ErrAlreadyActivatedResponse = New(http.StatusConflict, "ALREADY_ACTIVATED",
		"This license is already activated on this device")

	ErrFingerprintResponse = New(http.StatusServiceUnavailable, "FINGERPRINT_UNAVAILABLE",
		"Unable to identify this device. Please try again")
)
