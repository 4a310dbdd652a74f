package codec

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/internal/domain"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	c := New("correct horse battery staple")

	cases := []string{
		"",
		"hello",
		"multi\nline\ncontent with unicode: héllo wörld",
		`{"nested":"json payload"}`,
	}

	for _, plaintext := range cases {
		field, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		assert.True(t, field.Encrypted)

		decrypted, err := c.Decrypt(field)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestEncryptProducesFreshSaltAndNonce(t *testing.T) {
	t.Parallel()

	c := New("secret")

	first, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	second, err := c.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, first.Salt, second.Salt)
	assert.NotEqual(t, first.Nonce, second.Nonce)
	assert.NotEqual(t, first.Data, second.Data)
}

func TestDecryptWrongSecret(t *testing.T) {
	t.Parallel()

	field, err := New("right secret").Encrypt("confidential email body")
	require.NoError(t, err)

	_, err = New("wrong secret").Decrypt(field)
	assert.ErrorIs(t, err, ErrDecryptFailed)
	assert.NotContains(t, err.Error(), "confidential")
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	t.Parallel()

	c := New("secret")
	field, err := c.Encrypt("confidential email body")
	require.NoError(t, err)

	ciphertext, err := base64.StdEncoding.DecodeString(field.Data)
	require.NoError(t, err)

	// Flipping any single byte must break authentication.
	for i := range ciphertext {
		tampered := append([]byte(nil), ciphertext...)
		tampered[i] ^= 0x01

		broken := *field
		broken.Data = base64.StdEncoding.EncodeToString(tampered)

		_, err := c.Decrypt(&broken)
		assert.ErrorIs(t, err, ErrDecryptFailed, "byte %d", i)
	}
}

func TestDecryptCorruptField(t *testing.T) {
	t.Parallel()

	c := New("secret")
	field, err := c.Encrypt("body")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(f *domain.EncryptedField)
		want   error
	}{
		{"bad data encoding", func(f *domain.EncryptedField) { f.Data = "%%%" }, ErrFieldCorrupt},
		{"bad salt encoding", func(f *domain.EncryptedField) { f.Salt = "%%%" }, ErrFieldCorrupt},
		{"bad nonce encoding", func(f *domain.EncryptedField) { f.Nonce = "%%%" }, ErrFieldCorrupt},
		{"wrong nonce size", func(f *domain.EncryptedField) { f.Nonce = "c2hvcnQ=" }, ErrFieldCorrupt},
		{"missing members", func(f *domain.EncryptedField) { f.Salt = "" }, domain.ErrEncryptedFieldInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			broken := *field
			tc.mutate(&broken)
			_, err := c.Decrypt(&broken)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestNoSecretConfigured(t *testing.T) {
	t.Parallel()

	c := New("")

	_, err := c.Encrypt("body")
	assert.ErrorIs(t, err, ErrNoSecret)

	field, err := New("secret").Encrypt("body")
	require.NoError(t, err)
	_, err = c.Decrypt(field)
	assert.ErrorIs(t, err, ErrNoSecret)

	// Plain values still pass through without a secret.
	raw, err := c.DecodeValue(domain.PlainString("readable"))
	require.NoError(t, err)
	assert.JSONEq(t, `"readable"`, string(raw))
}

func TestDecodePayload(t *testing.T) {
	t.Parallel()

	c := New("secret")

	field, err := c.Encrypt("hidden body")
	require.NoError(t, err)

	decoded, err := c.DecodePayload(map[string]domain.PayloadValue{
		"body":    domain.EncryptedValue(field),
		"subject": domain.PlainString("weekly digest"),
		"count":   domain.PlainValue(json.RawMessage(`7`)),
	})
	require.NoError(t, err)

	assert.JSONEq(t, `"hidden body"`, string(decoded["body"]))
	assert.JSONEq(t, `"weekly digest"`, string(decoded["subject"]))
	assert.JSONEq(t, `7`, string(decoded["count"]))
}

func TestDecodePayloadReportsFieldName(t *testing.T) {
	t.Parallel()

	field, err := New("right").Encrypt("hidden")
	require.NoError(t, err)

	_, err = New("wrong").DecodePayload(map[string]domain.PayloadValue{
		"body": domain.EncryptedValue(field),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecryptFailed)
	assert.Contains(t, err.Error(), "body")
	assert.NotContains(t, err.Error(), "hidden")
}
