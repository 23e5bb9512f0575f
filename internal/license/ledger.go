package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ActivationEntry is one persisted row binding a license to a device.
// Rows are never deleted; deactivation flips IsActive and a later
// re-activation inserts a fresh row, preserving the audit trail.
type ActivationEntry struct {
	ID                int64       `json:"id"`
	LicenseID         string      `json:"license_id"`
	LicenseKey        string      `json:"license_key"`
	DeviceFingerprint string      `json:"device_fingerprint"`
	CustomerEmail     string      `json:"customer_email"`
	CustomerName      string      `json:"customer_name"`
	PackageTier       PackageTier `json:"package_tier"`
	DeviceLimit       int         `json:"device_limit"`
	ActivatedAt       time.Time   `json:"activated_at"`
	Expiry            string      `json:"expiry,omitempty"`
	IsActive          bool        `json:"is_active"`
}

// ActivateOutcome is the result of the store's transactional
// check-then-insert.
type ActivateOutcome int

const (
	// OutcomeActivated means a new activation row was inserted.
	OutcomeActivated ActivateOutcome = iota
	// OutcomeAlreadyActive means an active row already exists for this
	// exact license/device pair.
	OutcomeAlreadyActive
	// OutcomeLimitReached means the license is already active on its
	// maximum number of devices.
	OutcomeLimitReached
)

// Store is the persistence contract the ledger enforces its invariants
// against. Activate must run its existence check, active-device count, and
// insert inside a single transaction: two activations racing for the last
// device slot must not both succeed.
type Store interface {
	Activate(ctx context.Context, entry ActivationEntry) (ActivateOutcome, error)
	// Deactivate flips matching active rows to inactive and reports how
	// many it touched. An empty fingerprint deactivates every device for
	// the license.
	Deactivate(ctx context.Context, licenseID, deviceFingerprint string) (int64, error)
	IsActivatedHere(ctx context.Context, licenseKey, deviceFingerprint string) (bool, error)
	ActiveDeviceCount(ctx context.Context, licenseID string) (int, error)
}

// ResultCode classifies an activation attempt for callers and for the
// HTTP surface. Business-rule rejections are results, not errors; only
// storage failures surface as errors.
type ResultCode string

const (
	CodeActivated        ResultCode = "ACTIVATED"
	CodeInvalidKey       ResultCode = "INVALID_LICENSE_KEY"
	CodeExpired          ResultCode = "LICENSE_EXPIRED"
	CodeAlreadyActivated ResultCode = "ALREADY_ACTIVATED"
	CodeDeviceLimit      ResultCode = "DEVICE_LIMIT_REACHED"
)

// ActivationResult is the structured outcome of CheckAndActivate.
type ActivationResult struct {
	Activated bool           `json:"activated"`
	Code      ResultCode     `json:"code"`
	Message   string         `json:"message"`
	Record    *LicenseRecord `json:"record,omitempty"`
}

// ActivationLedger enforces per-device and per-license activation limits
// against a Store.
type ActivationLedger struct {
	store  Store
	logger *slog.Logger
}

// NewActivationLedger creates a ledger over the given store.
func NewActivationLedger(store Store, logger *slog.Logger) *ActivationLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivationLedger{store: store, logger: logger.With(slog.String("component", "activation_ledger"))}
}

// CheckAndActivate validates the decoded license and, if its business rules
// pass, records a new activation for the device. Invalid and expired
// decodes are rejected with their specific reason. The limit and
// same-device checks run inside the store's transaction.
func (l *ActivationLedger) CheckAndActivate(ctx context.Context, decoded DecodedLicense, licenseKey, deviceFingerprint, customerName string) (ActivationResult, error) {
	switch decoded.Status {
	case StatusInvalid:
		return ActivationResult{
			Code:    CodeInvalidKey,
			Message: "The provided license key is invalid or malformed",
		}, nil
	case StatusExpired:
		return ActivationResult{
			Code:    CodeExpired,
			Message: "Your license has expired. Please renew to continue",
			Record:  decoded.Record,
		}, nil
	}

	record := decoded.Record
	if deviceFingerprint == "" {
		return ActivationResult{}, fmt.Errorf("activation: device fingerprint is required")
	}

	entry := ActivationEntry{
		LicenseID:         record.LicenseID,
		LicenseKey:        licenseKey,
		DeviceFingerprint: deviceFingerprint,
		CustomerEmail:     record.CustomerEmail,
		CustomerName:      customerName,
		PackageTier:       record.PackageTier,
		DeviceLimit:       record.DeviceLimit,
		ActivatedAt:       time.Now().UTC(),
		Expiry:            record.Expiry,
		IsActive:          true,
	}

	outcome, err := l.store.Activate(ctx, entry)
	if err != nil {
		return ActivationResult{}, fmt.Errorf("activation: store: %w", err)
	}

	switch outcome {
	case OutcomeAlreadyActive:
		l.logger.InfoContext(ctx, "activation rejected, device already active",
			slog.String("license_id", record.LicenseID),
			slog.String("device_fingerprint", deviceFingerprint),
		)
		return ActivationResult{
			Code:    CodeAlreadyActivated,
			Message: "This license is already activated on this device",
			Record:  record,
		}, nil
	case OutcomeLimitReached:
		l.logger.InfoContext(ctx, "activation rejected, device limit reached",
			slog.String("license_id", record.LicenseID),
			slog.Int("device_limit", record.DeviceLimit),
		)
		return ActivationResult{
			Code:    CodeDeviceLimit,
			Message: fmt.Sprintf("Device limit reached: this license allows %d device(s)", record.DeviceLimit),
			Record:  record,
		}, nil
	}

	l.logger.InfoContext(ctx, "license activated",
		slog.String("license_id", record.LicenseID),
		slog.String("package_tier", string(record.PackageTier)),
		slog.Int("device_limit", record.DeviceLimit),
	)
	return ActivationResult{
		Activated: true,
		Code:      CodeActivated,
		Message:   "License activated successfully",
		Record:    record,
	}, nil
}

// Deactivate flips matching activation rows to inactive. An empty
// fingerprint is the administrative override: every device for the
// license is released. Rows are never deleted.
func (l *ActivationLedger) Deactivate(ctx context.Context, licenseID, deviceFingerprint string) (int64, error) {
	if licenseID == "" {
		return 0, fmt.Errorf("deactivation: license id is required")
	}
	n, err := l.store.Deactivate(ctx, licenseID, deviceFingerprint)
	if err != nil {
		return 0, fmt.Errorf("deactivation: store: %w", err)
	}
	l.logger.InfoContext(ctx, "license deactivated",
		slog.String("license_id", licenseID),
		slog.Bool("all_devices", deviceFingerprint == ""),
		slog.Int64("rows_affected", n),
	)
	return n, nil
}

// IsActivatedHere reports whether an active entry exists matching both the
// exact presented key string and the device fingerprint.
func (l *ActivationLedger) IsActivatedHere(ctx context.Context, licenseKey, deviceFingerprint string) (bool, error) {
	if licenseKey == "" || deviceFingerprint == "" {
		return false, nil
	}
	ok, err := l.store.IsActivatedHere(ctx, licenseKey, deviceFingerprint)
	if err != nil {
		return false, fmt.Errorf("activation lookup: store: %w", err)
	}
	return ok, nil
}

// ActiveDeviceCount reports how many devices the license is currently
// active on.
func (l *ActivationLedger) ActiveDeviceCount(ctx context.Context, licenseID string) (int, error) {
	n, err := l.store.ActiveDeviceCount(ctx, licenseID)
	if err != nil {
		return 0, fmt.Errorf("activation count: store: %w", err)
	}
	return n, nil
}
