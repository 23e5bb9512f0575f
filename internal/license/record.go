package license

import (
	"fmt"
	"time"
)

// PackageTier identifies the feature tier a license unlocks.
type PackageTier string

const (
	TierBasic        PackageTier = "basic"
	TierProfessional PackageTier = "professional"
	TierEnterprise   PackageTier = "enterprise"
)

// Valid reports whether the tier is one of the known tiers.
func (t PackageTier) Valid() bool {
	switch t {
	case TierBasic, TierProfessional, TierEnterprise:
		return true
	}
	return false
}

// ExpiryLayout is the calendar-date layout used inside license records.
const ExpiryLayout = "2006-01-02"

// LicenseRecord is the plaintext payload encoded inside a license key.
// It is never persisted on its own; it lives inside the encrypted key
// until Decode reconstitutes it.
type LicenseRecord struct {
	LicenseID     string      `json:"license_id"`
	CustomerEmail string      `json:"customer_email"`
	DeviceLimit   int         `json:"device_limit"`
	PackageTier   PackageTier `json:"package_tier"`
	Expiry        string      `json:"expiry,omitempty"` // YYYY-MM-DD, empty means perpetual
	IssuedAt      time.Time   `json:"issued_at"`
}

// ExpiresAt parses the record's expiry date. ok is false for perpetual
// licenses (no expiry set).
func (r *LicenseRecord) ExpiresAt() (time.Time, bool, error) {
	if r.Expiry == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(ExpiryLayout, r.Expiry)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse expiry %q: %w", r.Expiry, err)
	}
	return t, true, nil
}

// validate checks the structural invariants a decrypted record must hold.
func (r *LicenseRecord) validate() error {
	if r.LicenseID == "" {
		return fmt.Errorf("missing license id")
	}
	if r.CustomerEmail == "" {
		return fmt.Errorf("missing customer email")
	}
	if r.DeviceLimit < 1 {
		return fmt.Errorf("device limit must be at least 1, got %d", r.DeviceLimit)
	}
	if !r.PackageTier.Valid() {
		return fmt.Errorf("unknown package tier %q", r.PackageTier)
	}
	if _, _, err := r.ExpiresAt(); err != nil {
		return err
	}
	return nil
}

// Status is the discriminated outcome of decoding a license key.
type Status int

const (
	// StatusInvalid covers every structural failure: bad encoding, wrong
	// part count, checksum mismatch, decryption failure, malformed payload.
	// Callers must not be able to tell these apart.
	StatusInvalid Status = iota
	// StatusExpired means the key is authentic but its expiry date has
	// passed. Distinct from StatusInvalid so the caller can offer renewal.
	StatusExpired
	// StatusValid means the key is authentic and current.
	StatusValid
)

// String returns the status name for logging.
func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// DecodedLicense is the result of KeyCodec.Decode. Record is nil when the
// key is structurally invalid, and populated for both valid and expired
// outcomes.
type DecodedLicense struct {
	Status Status
	Record *LicenseRecord
}

// Valid reports whether the license is authentic and not expired.
func (d DecodedLicense) Valid() bool { return d.Status == StatusValid }

// Expired reports whether the license is authentic but lapsed.
func (d DecodedLicense) Expired() bool { return d.Status == StatusExpired }
