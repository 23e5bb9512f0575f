package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	apperrors "salepoint/internal/errors"
	"salepoint/internal/license"
	"salepoint/internal/store"
)

// fakeDevice is a deterministic DeviceIdentity for tests.
type fakeDevice struct {
	fingerprint string
	err         error
}

func (f *fakeDevice) Fingerprint() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.fingerprint, nil
}

type LicenseServiceTestSuite struct {
	suite.Suite
	ctx     context.Context
	store   *store.Store
	codec   *license.KeyCodec
	device  *fakeDevice
	limiter *license.AttemptLimiter
	cache   *license.DecodeCache
	service LicenseService
}

func (s *LicenseServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	dbPath := filepath.Join(s.T().TempDir(), "service_test.db")

	st, err := store.Open(s.ctx, store.Config{Path: dbPath})
	require.NoError(s.T(), err)
	s.store = st

	s.codec, err = license.NewKeyCodec("service-test-secret")
	require.NoError(s.T(), err)

	s.device = &fakeDevice{fingerprint: "device-alpha"}
	s.cache = license.NewDecodeCache(time.Minute, 100)
	s.limiter = license.NewAttemptLimiter(3, time.Hour, time.Hour)

	ledger := license.NewActivationLedger(st, nil)
	s.service = NewLicenseService(s.codec, ledger, s.device, st, s.cache, s.limiter, nil, nil)
}

func (s *LicenseServiceTestSuite) TearDownTest() {
	s.cache.Stop()
	s.limiter.Stop()
	s.store.Close()
}

func (s *LicenseServiceTestSuite) generateKey(limit int) string {
	key, _, err := s.codec.Generate(license.GenerateInput{
		CustomerEmail: "owner@shop.example",
		DeviceLimit:   limit,
		PackageTier:   license.TierProfessional,
	})
	require.NoError(s.T(), err)
	return key
}

func (s *LicenseServiceTestSuite) TestActivateAndStatus() {
	key := s.generateKey(2)

	result, err := s.service.Activate(s.ctx, ActivateRequest{LicenseKey: key, CustomerName: "Shop Owner"})
	s.Require().NoError(err)
	s.True(result.Activated)
	s.Equal(license.CodeActivated, result.Code)

	// Activation is remembered in settings.
	stored, found, err := s.store.GetSetting(s.ctx, store.SettingLicenseKey)
	s.Require().NoError(err)
	s.True(found)
	s.Equal(key, stored)

	tier, found, err := s.store.GetSetting(s.ctx, store.SettingPackageTier)
	s.Require().NoError(err)
	s.True(found)
	s.Equal(string(license.TierProfessional), tier)

	status, err := s.service.Status(s.ctx)
	s.Require().NoError(err)
	s.Equal("active", status.LicenseStatus)
	s.Equal(license.TierProfessional, status.PackageTier)
	s.Equal(2, status.DeviceLimit)
	s.Equal(1, status.ActiveDevices)
}

func (s *LicenseServiceTestSuite) TestStatusNotActivated() {
	status, err := s.service.Status(s.ctx)
	s.Require().NoError(err)
	s.Equal("not_activated", status.LicenseStatus)
}

func (s *LicenseServiceTestSuite) TestActivateInvalidKey() {
	result, err := s.service.Activate(s.ctx, ActivateRequest{LicenseKey: "not-a-real-key-at-all"})
	s.Require().NoError(err)
	s.False(result.Activated)
	s.Equal(license.CodeInvalidKey, result.Code)

	// A failed activation must not be remembered.
	_, found, err := s.store.GetSetting(s.ctx, store.SettingLicenseKey)
	s.Require().NoError(err)
	s.False(found)
}

func (s *LicenseServiceTestSuite) TestActivateTwiceSameDevice() {
	key := s.generateKey(2)

	first, err := s.service.Activate(s.ctx, ActivateRequest{LicenseKey: key})
	s.Require().NoError(err)
	s.True(first.Activated)

	second, err := s.service.Activate(s.ctx, ActivateRequest{LicenseKey: key})
	s.Require().NoError(err)
	s.False(second.Activated)
	s.Equal(license.CodeAlreadyActivated, second.Code)
}

func (s *LicenseServiceTestSuite) TestActivateDeviceLimit() {
	key := s.generateKey(1)

	s.device.fingerprint = "device-alpha"
	first, err := s.service.Activate(s.ctx, ActivateRequest{LicenseKey: key})
	s.Require().NoError(err)
	s.True(first.Activated)

	s.device.fingerprint = "device-beta"
	second, err := s.service.Activate(s.ctx, ActivateRequest{LicenseKey: key})
	s.Require().NoError(err)
	s.False(second.Activated)
	s.Equal(license.CodeDeviceLimit, second.Code)
}

func (s *LicenseServiceTestSuite) TestRepeatedFailuresBlockDevice() {
	for i := 0; i < 3; i++ {
		result, err := s.service.Activate(s.ctx, ActivateRequest{LicenseKey: "garbage-key-aaaaa-bbbbb"})
		s.Require().NoError(err)
		s.False(result.Activated)
	}

	_, err := s.service.Activate(s.ctx, ActivateRequest{LicenseKey: "garbage-key-aaaaa-bbbbb"})
	s.Require().Error(err)
	s.ErrorIs(err, apperrors.ErrActivationBlocked)
}

func (s *LicenseServiceTestSuite) TestFingerprintUnavailable() {
	s.device.err = errors.New("no network interfaces")

	_, err := s.service.Activate(s.ctx, ActivateRequest{LicenseKey: s.generateKey(1)})
	s.Require().Error(err)
	s.ErrorIs(err, apperrors.ErrFingerprintUnavailable)

	_, err = s.service.IsActivatedHere(s.ctx, "any-key")
	s.Require().Error(err)
	s.ErrorIs(err, apperrors.ErrFingerprintUnavailable)
}

func (s *LicenseServiceTestSuite) TestDeactivateClearsSettings() {
	key := s.generateKey(1)

	result, err := s.service.Activate(s.ctx, ActivateRequest{LicenseKey: key})
	s.Require().NoError(err)
	s.Require().True(result.Activated)

	released, err := s.service.Deactivate(s.ctx, result.Record.LicenseID, "device-alpha")
	s.Require().NoError(err)
	s.EqualValues(1, released)

	_, found, err := s.store.GetSetting(s.ctx, store.SettingLicenseKey)
	s.Require().NoError(err)
	s.False(found, "releasing this device must clear the remembered license")

	status, err := s.service.Status(s.ctx)
	s.Require().NoError(err)
	s.Equal("not_activated", status.LicenseStatus)
}

func (s *LicenseServiceTestSuite) TestIsActivatedHere() {
	key := s.generateKey(1)

	ok, err := s.service.IsActivatedHere(s.ctx, key)
	s.Require().NoError(err)
	s.False(ok)

	_, err = s.service.Activate(s.ctx, ActivateRequest{LicenseKey: key})
	s.Require().NoError(err)

	ok, err = s.service.IsActivatedHere(s.ctx, key)
	s.Require().NoError(err)
	s.True(ok)
}

func TestLicenseServiceTestSuite(t *testing.T) {
	suite.Run(t, new(LicenseServiceTestSuite))
}

func TestStatusResponseDaysLeft(t *testing.T) {
	// DaysLeft is derived, not stored; sanity-check the rounding.
	expiry := time.Now().AddDate(0, 0, 10).Format(license.ExpiryLayout)
	expiresAt, _ := time.Parse(license.ExpiryLayout, expiry)
	days := int(time.Until(expiresAt.AddDate(0, 0, 1)).Hours() / 24)
	assert.InDelta(t, 10, days, 1)
}
