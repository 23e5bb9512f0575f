// Package services contains the business logic layer between the HTTP
// transport and the license core.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "salepoint/internal/errors"
	"salepoint/internal/license"
)

// DeviceIdentity supplies the stable fingerprint of the current machine.
// Unavailability is a hard failure of the calling operation: nothing can
// be activated or checked without a device identity.
type DeviceIdentity interface {
	Fingerprint() (string, error)
}

// Settings is the persisted key/value storage the application uses to
// remember the activated license between runs.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// Setting keys mirrored from the store package to keep the service
// decoupled from the concrete storage.
const (
	settingLicenseKey  = "license.key"
	settingLicenseID   = "license.id"
	settingPackageTier = "license.package_tier"
)

// LicenseService provides the license operations the application exposes.
type LicenseService interface {
	Status(ctx context.Context) (*StatusResponse, error)
	Activate(ctx context.Context, req ActivateRequest) (*license.ActivationResult, error)
	Deactivate(ctx context.Context, licenseID, deviceFingerprint string) (int64, error)
	IsActivatedHere(ctx context.Context, licenseKey string) (bool, error)
}

// ActivateRequest carries the end-user activation input.
type ActivateRequest struct {
	LicenseKey   string
	CustomerName string
}

// StatusResponse is the current license state of this installation.
type StatusResponse struct {
	LicenseStatus string                 `json:"license_status"` // active|expired|invalid|not_activated
	Message       string                 `json:"message"`
	PackageTier   license.PackageTier    `json:"package_tier,omitempty"`
	DeviceLimit   int                    `json:"device_limit,omitempty"`
	ActiveDevices int                    `json:"active_devices,omitempty"`
	Expiry        string                 `json:"expiry,omitempty"`
	DaysLeft      int                    `json:"days_left,omitempty"`
	Record        *license.LicenseRecord `json:"record,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

type licenseService struct {
	codec    *license.KeyCodec
	ledger   *license.ActivationLedger
	device   DeviceIdentity
	settings Settings
	cache    *license.DecodeCache
	limiter  *license.AttemptLimiter
	metrics  *license.Metrics
	logger   *slog.Logger
}

// NewLicenseService assembles the license business logic. metrics may be
// nil when telemetry is disabled.
func NewLicenseService(
	codec *license.KeyCodec,
	ledger *license.ActivationLedger,
	device DeviceIdentity,
	settings Settings,
	cache *license.DecodeCache,
	limiter *license.AttemptLimiter,
	metrics *license.Metrics,
	logger *slog.Logger,
) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		codec:    codec,
		ledger:   ledger,
		device:   device,
		settings: settings,
		cache:    cache,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger.With(slog.String("service", "license")),
	}
}

// decode runs the codec through the memoization cache.
func (s *licenseService) decode(ctx context.Context, key string) license.DecodedLicense {
	if s.cache != nil {
		if decoded, ok := s.cache.Get(key); ok {
			return decoded
		}
	}
	decoded := s.codec.Decode(key)
	s.metrics.RecordDecode(ctx, decoded.Status)
	if s.cache != nil {
		s.cache.Set(key, decoded)
	}
	return decoded
}

// Activate decodes the presented key and records a device-bound
// activation. Business-rule rejections come back as the result, not as
// errors; errors mean infrastructure failure.
func (s *licenseService) Activate(ctx context.Context, req ActivateRequest) (*license.ActivationResult, error) {
	fingerprint, err := s.device.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrFingerprintUnavailable, err)
	}

	if s.limiter != nil && s.limiter.IsBlocked(fingerprint) {
		return nil, apperrors.ErrActivationBlocked
	}

	decoded := s.decode(ctx, req.LicenseKey)
	result, err := s.ledger.CheckAndActivate(ctx, decoded, req.LicenseKey, fingerprint, req.CustomerName)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordActivation(ctx, result.Code)
	if s.limiter != nil {
		s.limiter.RecordAttempt(fingerprint, result.Activated)
	}

	if result.Activated {
		if err := s.rememberActivation(ctx, req.LicenseKey, result.Record); err != nil {
			// The activation row is already committed; losing the local
			// settings only costs a re-entry of the key on next launch.
			s.logger.WarnContext(ctx, "failed to persist activation settings",
				slog.String("error", err.Error()))
		}
	}
	return &result, nil
}

func (s *licenseService) rememberActivation(ctx context.Context, key string, record *license.LicenseRecord) error {
	if err := s.settings.SetSetting(ctx, settingLicenseKey, key); err != nil {
		return err
	}
	if err := s.settings.SetSetting(ctx, settingLicenseID, record.LicenseID); err != nil {
		return err
	}
	return s.settings.SetSetting(ctx, settingPackageTier, string(record.PackageTier))
}

// Status reports the state of the locally remembered license.
func (s *licenseService) Status(ctx context.Context) (*StatusResponse, error) {
	now := time.Now()
	key, found, err := s.settings.GetSetting(ctx, settingLicenseKey)
	if err != nil {
		return nil, fmt.Errorf("read activated key: %w", err)
	}
	if !found || key == "" {
		return &StatusResponse{
			LicenseStatus: "not_activated",
			Message:       "No license has been activated on this device",
			Timestamp:     now,
		}, nil
	}

	decoded := s.decode(ctx, key)
	switch decoded.Status {
	case license.StatusInvalid:
		return &StatusResponse{
			LicenseStatus: "invalid",
			Message:       "The stored license key is invalid",
			Timestamp:     now,
		}, nil
	case license.StatusExpired:
		return &StatusResponse{
			LicenseStatus: "expired",
			Message:       "Your license has expired. Please renew to continue",
			PackageTier:   decoded.Record.PackageTier,
			DeviceLimit:   decoded.Record.DeviceLimit,
			Expiry:        decoded.Record.Expiry,
			Record:        decoded.Record,
			Timestamp:     now,
		}, nil
	}

	record := decoded.Record
	fingerprint, err := s.device.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrFingerprintUnavailable, err)
	}
	activeHere, err := s.ledger.IsActivatedHere(ctx, key, fingerprint)
	if err != nil {
		return nil, err
	}
	if !activeHere {
		return &StatusResponse{
			LicenseStatus: "not_activated",
			Message:       "The stored license is not activated on this device",
			PackageTier:   record.PackageTier,
			DeviceLimit:   record.DeviceLimit,
			Record:        record,
			Timestamp:     now,
		}, nil
	}

	activeDevices, err := s.ledger.ActiveDeviceCount(ctx, record.LicenseID)
	if err != nil {
		return nil, err
	}

	resp := &StatusResponse{
		LicenseStatus: "active",
		Message:       "License is active on this device",
		PackageTier:   record.PackageTier,
		DeviceLimit:   record.DeviceLimit,
		ActiveDevices: activeDevices,
		Expiry:        record.Expiry,
		Record:        record,
		Timestamp:     now,
	}
	if expiresAt, has, _ := record.ExpiresAt(); has {
		resp.DaysLeft = int(time.Until(expiresAt.AddDate(0, 0, 1)).Hours() / 24)
	}
	return resp, nil
}

// Deactivate releases the license on the given device, or on every device
// when the fingerprint is empty. When the locally remembered license is
// released here, the stored settings are cleared as well.
func (s *licenseService) Deactivate(ctx context.Context, licenseID, deviceFingerprint string) (int64, error) {
	n, err := s.ledger.Deactivate(ctx, licenseID, deviceFingerprint)
	if err != nil {
		return 0, err
	}

	storedID, found, err := s.settings.GetSetting(ctx, settingLicenseID)
	if err == nil && found && storedID == licenseID {
		ownFingerprint, fpErr := s.device.Fingerprint()
		releasedHere := deviceFingerprint == "" || (fpErr == nil && deviceFingerprint == ownFingerprint)
		if releasedHere {
			if key, ok, _ := s.settings.GetSetting(ctx, settingLicenseKey); ok && s.cache != nil {
				s.cache.Invalidate(key)
			}
			for _, k := range []string{settingLicenseKey, settingLicenseID, settingPackageTier} {
				if delErr := s.settings.DeleteSetting(ctx, k); delErr != nil {
					s.logger.WarnContext(ctx, "failed to clear activation setting",
						slog.String("key", k), slog.String("error", delErr.Error()))
				}
			}
		}
	}
	return n, nil
}

// IsActivatedHere reports whether the given key is active on this device.
func (s *licenseService) IsActivatedHere(ctx context.Context, licenseKey string) (bool, error) {
	fingerprint, err := s.device.Fingerprint()
	if err != nil {
		return false, fmt.Errorf("%w: %v", apperrors.ErrFingerprintUnavailable, err)
	}
	return s.ledger.IsActivatedHere(ctx, licenseKey, fingerprint)
}
