package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"salepoint/internal/license"
)

// Activate runs the ledger's check-then-insert inside one transaction.
// The DSN requests immediate transactions, so the write lock is held for
// the whole sequence and two activations racing for the last device slot
// serialize instead of both succeeding.
func (s *Store) Activate(ctx context.Context, entry license.ActivationEntry) (license.ActivateOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin activation transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_id = ? AND device_fingerprint = ? AND is_active = 1`,
		entry.LicenseID, entry.DeviceFingerprint,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("check existing activation: %w", err)
	}
	if exists > 0 {
		return license.OutcomeAlreadyActive, nil
	}

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_id = ? AND is_active = 1`,
		entry.LicenseID,
	).Scan(&active)
	if err != nil {
		return 0, fmt.Errorf("count active devices: %w", err)
	}
	if active >= entry.DeviceLimit {
		return license.OutcomeLimitReached, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO activations
		 (license_id, license_key, device_fingerprint, customer_email, customer_name,
		  package_tier, device_limit, activated_at, expiry, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		entry.LicenseID, entry.LicenseKey, entry.DeviceFingerprint, entry.CustomerEmail,
		entry.CustomerName, string(entry.PackageTier), entry.DeviceLimit,
		entry.ActivatedAt.UTC().Format(time.RFC3339), entry.Expiry,
	)
	if err != nil {
		return 0, fmt.Errorf("insert activation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit activation: %w", err)
	}
	return license.OutcomeActivated, nil
}

// Deactivate flips matching active rows to inactive. An empty fingerprint
// releases every device for the license. Rows are never deleted.
func (s *Store) Deactivate(ctx context.Context, licenseID, deviceFingerprint string) (int64, error) {
	var res sql.Result
	var err error
	if deviceFingerprint == "" {
		res, err = s.db.ExecContext(ctx,
			`UPDATE activations SET is_active = 0 WHERE license_id = ? AND is_active = 1`,
			licenseID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE activations SET is_active = 0 WHERE license_id = ? AND device_fingerprint = ? AND is_active = 1`,
			licenseID, deviceFingerprint)
	}
	if err != nil {
		return 0, fmt.Errorf("deactivate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate rows affected: %w", err)
	}
	return n, nil
}

// IsActivatedHere reports whether an active row matches both the exact
// presented key string and the device fingerprint.
func (s *Store) IsActivatedHere(ctx context.Context, licenseKey, deviceFingerprint string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_key = ? AND device_fingerprint = ? AND is_active = 1`,
		licenseKey, deviceFingerprint,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("activation lookup: %w", err)
	}
	return count > 0, nil
}

// ActiveDeviceCount returns how many devices a license is active on.
func (s *Store) ActiveDeviceCount(ctx context.Context, licenseID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_id = ? AND is_active = 1`,
		licenseID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active devices: %w", err)
	}
	return count, nil
}

// History returns every activation row for a license, newest first,
// including deactivated ones. The audit trail backs the support surface.
func (s *Store) History(ctx context.Context, licenseID string) ([]license.ActivationEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, license_id, license_key, device_fingerprint, customer_email, customer_name,
		        package_tier, device_limit, activated_at, expiry, is_active
		 FROM activations WHERE license_id = ? ORDER BY id DESC`,
		licenseID)
	if err != nil {
		return nil, fmt.Errorf("activation history: %w", err)
	}
	defer rows.Close()

	var entries []license.ActivationEntry
	for rows.Next() {
		var e license.ActivationEntry
		var tier, activatedAt string
		var isActive int
		if err := rows.Scan(&e.ID, &e.LicenseID, &e.LicenseKey, &e.DeviceFingerprint,
			&e.CustomerEmail, &e.CustomerName, &tier, &e.DeviceLimit,
			&activatedAt, &e.Expiry, &isActive); err != nil {
			return nil, fmt.Errorf("scan activation row: %w", err)
		}
		e.PackageTier = license.PackageTier(tier)
		e.IsActive = isActive == 1
		if t, err := time.Parse(time.RFC3339, activatedAt); err == nil {
			e.ActivatedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activation history rows: %w", err)
	}
	return entries, nil
}
