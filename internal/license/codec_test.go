package license

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-issuer-secret"

func newTestCodec(t *testing.T) *KeyCodec {
	t.Helper()
	codec, err := NewKeyCodec(testSecret)
	require.NoError(t, err)
	return codec
}

func TestNewKeyCodec_EmptySecret(t *testing.T) {
	_, err := NewKeyCodec("")
	assert.Error(t, err)
}

func TestGenerate_Validation(t *testing.T) {
	codec := newTestCodec(t)

	tests := []struct {
		name    string
		input   GenerateInput
		wantErr string
	}{
		{
			name:    "missing email",
			input:   GenerateInput{},
			wantErr: "customer email is required",
		},
		{
			name:    "whitespace email",
			input:   GenerateInput{CustomerEmail: "   "},
			wantErr: "customer email is required",
		},
		{
			name:    "negative device limit",
			input:   GenerateInput{CustomerEmail: "a@b.com", DeviceLimit: -1},
			wantErr: "device limit",
		},
		{
			name:    "unknown tier",
			input:   GenerateInput{CustomerEmail: "a@b.com", PackageTier: "platinum"},
			wantErr: "unknown package tier",
		},
		{
			name:    "bad expiry format",
			input:   GenerateInput{CustomerEmail: "a@b.com", Expiry: "31-12-2028"},
			wantErr: "expiry",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := codec.Generate(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGenerate_Defaults(t *testing.T) {
	codec := newTestCodec(t)

	key, record, err := codec.Generate(GenerateInput{CustomerEmail: "Sales@Example.COM"})
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.Equal(t, "sales@example.com", record.CustomerEmail)
	assert.Equal(t, 1, record.DeviceLimit)
	assert.Equal(t, TierProfessional, record.PackageTier)
	assert.Empty(t, record.Expiry)
	assert.NotEmpty(t, record.LicenseID)
}

func TestGenerate_OneShotKeys(t *testing.T) {
	codec := newTestCodec(t)
	input := GenerateInput{CustomerEmail: "a@b.com", DeviceLimit: 2, PackageTier: TierBasic}

	key1, record1, err := codec.Generate(input)
	require.NoError(t, err)
	key2, record2, err := codec.Generate(input)
	require.NoError(t, err)

	assert.NotEqual(t, key1, key2, "identical inputs must not produce identical keys")
	assert.NotEqual(t, record1.LicenseID, record2.LicenseID, "license ids must be freshly minted")
}

func TestRoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	tests := []struct {
		name  string
		input GenerateInput
	}{
		{"basic perpetual", GenerateInput{CustomerEmail: "a@b.com", DeviceLimit: 1, PackageTier: TierBasic}},
		{"professional with expiry", GenerateInput{CustomerEmail: "Pro@Shop.io", DeviceLimit: 3, PackageTier: TierProfessional, Expiry: "2030-06-15"}},
		{"enterprise many devices", GenerateInput{CustomerEmail: "ops@corp.example", DeviceLimit: 50, PackageTier: TierEnterprise}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, record, err := codec.Generate(tt.input)
			require.NoError(t, err)

			decoded := codec.Decode(key)
			require.Equal(t, StatusValid, decoded.Status)
			require.NotNil(t, decoded.Record)
			assert.Equal(t, record.LicenseID, decoded.Record.LicenseID)
			assert.Equal(t, strings.ToLower(tt.input.CustomerEmail), decoded.Record.CustomerEmail)
			assert.Equal(t, tt.input.DeviceLimit, decoded.Record.DeviceLimit)
			assert.Equal(t, tt.input.PackageTier, decoded.Record.PackageTier)
			assert.Equal(t, tt.input.Expiry, decoded.Record.Expiry)
		})
	}
}

func TestRoundTrip_KeyShape(t *testing.T) {
	codec := newTestCodec(t)

	key, _, err := codec.Generate(GenerateInput{
		CustomerEmail: "a@b.com",
		DeviceLimit:   1,
		PackageTier:   TierBasic,
	})
	require.NoError(t, err)
	assert.Greater(t, len(key), 20)
	assert.Contains(t, key, "-")

	decoded := codec.Decode(key)
	require.True(t, decoded.Valid())
	assert.Equal(t, "a@b.com", decoded.Record.CustomerEmail)
	assert.Equal(t, 1, decoded.Record.DeviceLimit)
	assert.Equal(t, TierBasic, decoded.Record.PackageTier)
	assert.Empty(t, decoded.Record.Expiry)
}

func TestDecode_MalformedInput(t *testing.T) {
	codec := newTestCodec(t)

	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"dashes only", "-----"},
		{"not base64", "!!!!-@@@@-£££"},
		{"impossible repad length", "abcde-abcde-abc"},
		{"valid base64 wrong structure", base64.RawURLEncoding.EncodeToString([]byte("no separators here"))},
		{"two parts only", base64.RawURLEncoding.EncodeToString([]byte("aabb:ccdd"))},
		{"four parts", base64.RawURLEncoding.EncodeToString([]byte("aa:bb:cc:dd"))},
		{"random garbage", "ZmFrZ-S1rZX-ktZGF-0YQ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded := codec.Decode(tt.key)
			assert.Equal(t, StatusInvalid, decoded.Status)
			assert.Nil(t, decoded.Record)
		})
	}
}

func TestDecode_TamperDetection(t *testing.T) {
	codec := newTestCodec(t)
	key, _, err := codec.Generate(GenerateInput{CustomerEmail: "a@b.com"})
	require.NoError(t, err)

	// Flip one character at a spread of positions across the key. The very
	// last base64 character is skipped: its unused trailing bits can absorb
	// a flip without changing the decoded bytes.
	positions := []int{0, 1, len(key) / 4, len(key) / 2, 2 * len(key) / 3, len(key) - 8}
	for _, pos := range positions {
		if key[pos] == '-' {
			continue
		}
		replacement := byte('A')
		if key[pos] == 'A' {
			replacement = 'B'
		}
		tampered := key[:pos] + string(replacement) + key[pos+1:]
		decoded := codec.Decode(tampered)
		assert.Equalf(t, StatusInvalid, decoded.Status, "flip at position %d must invalidate the key", pos)
	}
}

func TestDecode_WrongSecret(t *testing.T) {
	codec := newTestCodec(t)
	other, err := NewKeyCodec("a-different-secret")
	require.NoError(t, err)

	key, _, err := codec.Generate(GenerateInput{CustomerEmail: "a@b.com"})
	require.NoError(t, err)

	assert.Equal(t, StatusInvalid, other.Decode(key).Status)
}

func TestDecode_CaseSensitivity(t *testing.T) {
	codec := newTestCodec(t)
	key, _, err := codec.Generate(GenerateInput{CustomerEmail: "a@b.com"})
	require.NoError(t, err)

	t.Run("recasing the encoded portion invalidates", func(t *testing.T) {
		upper := strings.ToUpper(key)
		require.NotEqual(t, key, upper, "generated key should contain lowercase characters")
		assert.Equal(t, StatusInvalid, codec.Decode(upper).Status)
	})

	t.Run("recasing only the checksum still decodes", func(t *testing.T) {
		compact := strings.ReplaceAll(key, "-", "")
		blob, err := base64.RawURLEncoding.DecodeString(compact)
		require.NoError(t, err)
		parts := strings.Split(string(blob), ":")
		require.Len(t, parts, 3)

		parts[2] = strings.ToUpper(parts[2])
		require.NotEqual(t, strings.ToLower(parts[2]), parts[2], "checksum should contain hex letters")
		recased := base64.RawURLEncoding.EncodeToString([]byte(strings.Join(parts, ":")))

		decoded := codec.Decode(recased)
		assert.Equal(t, StatusValid, decoded.Status)
	})
}

func TestDecode_ExpiryBoundary(t *testing.T) {
	codec := newTestCodec(t)

	// The expiry day boundary is anchored in UTC, so the reference dates
	// must be too.
	t.Run("yesterday is expired", func(t *testing.T) {
		yesterday := time.Now().UTC().AddDate(0, 0, -2).Format(ExpiryLayout)
		key, _, err := codec.Generate(GenerateInput{CustomerEmail: "a@b.com", Expiry: yesterday})
		require.NoError(t, err)

		decoded := codec.Decode(key)
		assert.Equal(t, StatusExpired, decoded.Status)
		require.NotNil(t, decoded.Record, "expired keys still carry the record")
		assert.Equal(t, yesterday, decoded.Record.Expiry)
	})

	t.Run("today is still valid", func(t *testing.T) {
		today := time.Now().UTC().Format(ExpiryLayout)
		key, _, err := codec.Generate(GenerateInput{CustomerEmail: "a@b.com", Expiry: today})
		require.NoError(t, err)

		assert.Equal(t, StatusValid, codec.Decode(key).Status)
	})

	t.Run("tomorrow is valid", func(t *testing.T) {
		tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format(ExpiryLayout)
		key, _, err := codec.Generate(GenerateInput{CustomerEmail: "a@b.com", Expiry: tomorrow})
		require.NoError(t, err)

		assert.Equal(t, StatusValid, codec.Decode(key).Status)
	})
}

func TestDecode_AcceptsUngroupedKey(t *testing.T) {
	codec := newTestCodec(t)
	key, _, err := codec.Generate(GenerateInput{CustomerEmail: "a@b.com"})
	require.NoError(t, err)

	compact := strings.ReplaceAll(key, "-", "")
	assert.Equal(t, StatusValid, codec.Decode(compact).Status)
}

func TestGroupKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "abc"},
		{"abcde", "abcde"},
		{"abcdef", "abcde-f"},
		{"abcdefghij", "abcde-fghij"},
		{"abcdefghijk", "abcde-fghij-k"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, groupKey(tt.in))
	}
}

func TestGroupKey_PreservesEveryCharacter(t *testing.T) {
	codec := newTestCodec(t)
	key, _, err := codec.Generate(GenerateInput{CustomerEmail: "a@b.com"})
	require.NoError(t, err)

	compact := strings.ReplaceAll(key, "-", "")
	_, err = base64.RawURLEncoding.DecodeString(compact)
	assert.NoError(t, err, "stripping dashes must yield the full encoded blob")
}

func TestPKCS7(t *testing.T) {
	for size := 0; size < 48; size++ {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i)
		}
		padded := padPKCS7(data, 16)
		require.Equal(t, 0, len(padded)%16)
		unpadded, err := unpadPKCS7(padded, 16)
		require.NoError(t, err)
		assert.Equal(t, data, unpadded)
	}

	_, err := unpadPKCS7([]byte{}, 16)
	assert.Error(t, err)
	_, err = unpadPKCS7(make([]byte, 16), 16)
	assert.Error(t, err, "zero padding byte is invalid")
}
