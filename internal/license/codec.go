package license

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/scrypt"
)

const (
	// kdfSalt is the fixed scrypt salt for deriving the symmetric key from
	// the shared issuer secret. Held constant across generate and decode so
	// the same secret always derives the same key. Changing it invalidates
	// every key ever issued.
	kdfSalt = "salepoint-license-kdf-v1"

	// scrypt parameters, OWASP recommended minimums for AES-256.
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32

	// checksumLen is the truncated hex width of the tamper-detection digest.
	checksumLen = 8

	// keyGroupSize is the chunk width used when dash-grouping keys for
	// human transcription.
	keyGroupSize = 5
)

// GenerateInput carries the operator-supplied fields for minting a key.
// Zero values fall back to defaults: DeviceLimit 1, TierProfessional.
type GenerateInput struct {
	CustomerEmail string
	DeviceLimit   int
	PackageTier   PackageTier
	Expiry        string // YYYY-MM-DD, empty for a perpetual license
}

// KeyCodec turns a LicenseRecord into a transcribable key string and back.
// It is pure and stateless: the only inputs are the shared issuer secret
// fixed at construction, the arguments, and fresh randomness.
//
// Wire format: base64url( IVHEX ':' CIPHERTEXTHEX ':' CHECKSUM8 ) re-grouped
// into dash-joined chunks of five characters. The base64 segment is
// case-sensitive; the checksum comparison is case-insensitive.
type KeyCodec struct {
	secret string
	aesKey []byte
}

// NewKeyCodec derives the symmetric key from the shared issuer secret.
// The derivation is deterministic, so issuer and verifier agree on the key
// from the secret alone.
func NewKeyCodec(secret string) (*KeyCodec, error) {
	if secret == "" {
		return nil, fmt.Errorf("license codec: secret must not be empty")
	}
	key, err := scrypt.Key([]byte(secret), []byte(kdfSalt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("license codec: key derivation failed: %w", err)
	}
	return &KeyCodec{secret: secret, aesKey: key}, nil
}

// Generate mints a one-shot license key for the given input. Two calls with
// identical input produce different keys: the license id and the IV are
// fresh every time. Errors only signal programmer misuse (missing email,
// bad tier, unparseable expiry), never attacker-controlled conditions.
func (c *KeyCodec) Generate(in GenerateInput) (string, *LicenseRecord, error) {
	if strings.TrimSpace(in.CustomerEmail) == "" {
		return "", nil, fmt.Errorf("license generate: customer email is required")
	}
	if in.DeviceLimit == 0 {
		in.DeviceLimit = 1
	}
	if in.DeviceLimit < 1 {
		return "", nil, fmt.Errorf("license generate: device limit must be at least 1, got %d", in.DeviceLimit)
	}
	if in.PackageTier == "" {
		in.PackageTier = TierProfessional
	}
	if !in.PackageTier.Valid() {
		return "", nil, fmt.Errorf("license generate: unknown package tier %q", in.PackageTier)
	}
	if in.Expiry != "" {
		if _, err := time.Parse(ExpiryLayout, in.Expiry); err != nil {
			return "", nil, fmt.Errorf("license generate: expiry must be %s: %w", ExpiryLayout, err)
		}
	}

	record := &LicenseRecord{
		LicenseID:     newLicenseID(),
		CustomerEmail: strings.ToLower(strings.TrimSpace(in.CustomerEmail)),
		DeviceLimit:   in.DeviceLimit,
		PackageTier:   in.PackageTier,
		Expiry:        in.Expiry,
		IssuedAt:      time.Now().UTC(),
	}

	plaintext, err := json.Marshal(record)
	if err != nil {
		return "", nil, fmt.Errorf("license generate: marshal record: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", nil, fmt.Errorf("license generate: read iv: %w", err)
	}

	ciphertext, err := c.encryptCBC(plaintext, iv)
	if err != nil {
		return "", nil, fmt.Errorf("license generate: %w", err)
	}

	ivHex := hex.EncodeToString(iv)
	ctHex := hex.EncodeToString(ciphertext)
	blob := ivHex + ":" + ctHex + ":" + c.checksum(ivHex, ctHex)

	encoded := base64.RawURLEncoding.EncodeToString([]byte(blob))
	return groupKey(encoded), record, nil
}

// Decode validates a presented key and reconstitutes the record inside it.
// It never returns an error for attacker-controlled input: every structural
// failure collapses to StatusInvalid, and an authentic-but-lapsed key comes
// back as StatusExpired with the record attached.
func (c *KeyCodec) Decode(key string) DecodedLicense {
	invalid := DecodedLicense{Status: StatusInvalid}

	compact := strings.ReplaceAll(strings.TrimSpace(key), "-", "")
	if compact == "" {
		return invalid
	}
	// Repad for the base64 decoder. A remainder of one can never be valid.
	switch len(compact) % 4 {
	case 1:
		return invalid
	case 2:
		compact += "=="
	case 3:
		compact += "="
	}
	raw, err := base64.URLEncoding.DecodeString(compact)
	if err != nil {
		return invalid
	}

	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 {
		return invalid
	}
	ivHex, ctHex, presented := parts[0], parts[1], parts[2]

	// Tamper-detection gate. Runs before any decryption attempt. The
	// checksum is hex and may be transcribed in either case.
	if !strings.EqualFold(c.checksum(ivHex, ctHex), presented) {
		return invalid
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return invalid
	}
	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil {
		return invalid
	}

	plaintext, err := c.decryptCBC(ciphertext, iv)
	if err != nil {
		return invalid
	}

	var record LicenseRecord
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return invalid
	}
	if err := record.validate(); err != nil {
		return invalid
	}

	if expiresAt, has, _ := record.ExpiresAt(); has {
		// Expires at the end of the named day. The parsed date is UTC
		// midnight, so the comparison is anchored in UTC: the boundary
		// does not move with the machine's timezone.
		if time.Now().UTC().After(expiresAt.AddDate(0, 0, 1)) {
			return DecodedLicense{Status: StatusExpired, Record: &record}
		}
	}
	return DecodedLicense{Status: StatusValid, Record: &record}
}

// checksum computes the truncated tamper-detection digest over the hex
// parts joined by ':' concatenated with the shared secret.
func (c *KeyCodec) checksum(ivHex, ctHex string) string {
	sum := sha256.Sum256([]byte(ivHex + ":" + ctHex + c.secret))
	return hex.EncodeToString(sum[:])[:checksumLen]
}

func (c *KeyCodec) encryptCBC(plaintext, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	padded := padPKCS7(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

func (c *KeyCodec) decryptCBC(ciphertext, iv []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not block-aligned")
	}
	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return unpadPKCS7(plaintext, aes.BlockSize)
}

func padPKCS7(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n < 1 || n > blockSize {
		return nil, fmt.Errorf("invalid padding byte %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}

// newLicenseID mints a fresh license identifier: a millisecond timestamp
// plus random entropy. Uniqueness is statistical, not enforced.
func newLicenseID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	return fmt.Sprintf("SP-%d-%s", time.Now().UnixMilli(), suffix)
}

// groupKey re-chunks the encoded key into dash-joined groups for human
// transcription. Every chunk is kept, including a short trailing one.
func groupKey(encoded string) string {
	if encoded == "" {
		return ""
	}
	groups := make([]string, 0, len(encoded)/keyGroupSize+1)
	for start := 0; start < len(encoded); start += keyGroupSize {
		end := start + keyGroupSize
		if end > len(encoded) {
			end = len(encoded)
		}
		groups = append(groups, encoded[start:end])
	}
	return strings.Join(groups, "-")
}
