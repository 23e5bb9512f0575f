// Package license implements the SalePoint license activation core: key
// generation and verification plus the device-bound activation ledger.
//
// # Architecture Overview
//
// The package has two halves:
//
//	- KeyCodec: pure, stateless encode/decode of license keys
//	- ActivationLedger: device-limit enforcement over a persistent Store
//
// Supporting pieces are a decode-result cache, an activation attempt
// limiter, and OpenTelemetry instruments.
//
// # Key Format
//
// A key carries an encrypted LicenseRecord:
//
//	base64url( IVHEX ':' CIPHERTEXTHEX ':' CHECKSUM8 )
//
// re-grouped into dash-joined chunks of five characters, e.g.
// MzFhY-jdkZj-... The record is serialized as JSON, encrypted with
// AES-256-CBC under a key derived from the shared issuer secret via
// scrypt with a fixed salt, and guarded by a truncated SHA-256 checksum
// that is verified before any decryption attempt. The base64 segment is
// case-sensitive; the checksum comparison is case-insensitive.
//
// Keys are one-shot credentials: every Generate call mints a fresh
// license id and a fresh IV, so identical inputs never produce the same
// key twice.
//
// # Decode Outcomes
//
// Decode never returns an error for attacker-controlled input. It yields
// one of three outcomes:
//
//	- StatusValid: authentic and current, record attached
//	- StatusExpired: authentic but lapsed, record attached
//	- StatusInvalid: any structural failure, indistinguishable sub-reasons
//
// Collapsing the invalid sub-reasons keeps the codec from acting as a
// forgery oracle.
//
// # Activation
//
// CheckAndActivate enforces two invariants against the Store:
//
//	1. exactly one active entry per (license, device) pair
//	2. active devices per license never exceed the record's device limit
//
// The Store runs its check-then-insert inside one transaction so two
// activations racing for the last slot cannot both succeed. Deactivation
// flips rows inactive and never deletes them; re-activation inserts a
// new row, preserving the audit history.
package license
