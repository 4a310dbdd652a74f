// Package codec encrypts and decrypts sensitive payload fields.
//
// Ciphertext is authenticated: decrypting with the wrong secret or a
// tampered field always fails, it never yields silently-wrong plaintext.
// The key is derived per field from the secret and a fresh random salt
// with argon2id; sealing uses XChaCha20-Poly1305 with a fresh random
// nonce, so identical plaintext encrypts to distinct ciphertext on every
// call.
package codec

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mailsift/mailsift/internal/domain"
)

// Common errors returned by the codec package.
var (
	// ErrDecryptFailed is returned when a field cannot be decrypted,
	// either because the secret is wrong or the ciphertext was tampered
	// with. The two causes are deliberately indistinguishable.
	ErrDecryptFailed = errors.New("decryption failed")

	// ErrNoSecret is returned when an encrypted field is encountered but
	// no secret was configured.
	ErrNoSecret = errors.New("no codec secret configured")

	// ErrFieldCorrupt is returned when a field's base64 members cannot be
	// decoded or have impossible sizes.
	ErrFieldCorrupt = errors.New("encrypted field is corrupt")
)

// Key derivation parameters, per the argon2id recommendations shipped with
// golang.org/x/crypto.
const (
	saltSize     = 16
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// Codec encrypts and decrypts payload values with a password-derived key.
type Codec struct {
	secret string
}

// New creates a Codec with the given secret. An empty secret is allowed;
// such a codec passes plain values through and fails with ErrNoSecret only
// when it actually encounters an encrypted field.
func New(secret string) *Codec {
	return &Codec{secret: secret}
}

// Encrypt seals plaintext into a fresh EncryptedField. Salt and nonce are
// generated anew on every call and never reused.
func (c *Codec) Encrypt(plaintext string) (*domain.EncryptedField, error) {
	if c.secret == "" {
		return nil, ErrNoSecret
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.deriveKey(salt))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), nil)

	return &domain.EncryptedField{
		Encrypted: true,
		Data:      base64.StdEncoding.EncodeToString(ciphertext),
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Decrypt opens an EncryptedField and returns the plaintext. Returns
// ErrDecryptFailed when authentication fails; the message never contains
// plaintext or key material.
func (c *Codec) Decrypt(field *domain.EncryptedField) (string, error) {
	if c.secret == "" {
		return "", ErrNoSecret
	}

	if err := field.Validate(); err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(field.Data)
	if err != nil {
		return "", fmt.Errorf("%w: bad data encoding", ErrFieldCorrupt)
	}
	salt, err := base64.StdEncoding.DecodeString(field.Salt)
	if err != nil {
		return "", fmt.Errorf("%w: bad salt encoding", ErrFieldCorrupt)
	}
	nonce, err := base64.StdEncoding.DecodeString(field.Nonce)
	if err != nil {
		return "", fmt.Errorf("%w: bad nonce encoding", ErrFieldCorrupt)
	}

	aead, err := chacha20poly1305.NewX(c.deriveKey(salt))
	if err != nil {
		return "", fmt.Errorf("failed to initialize cipher: %w", err)
	}

	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("%w: bad nonce size", ErrFieldCorrupt)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// Wrong secret and tampered ciphertext are indistinguishable here.
		return "", ErrDecryptFailed
	}

	return string(plaintext), nil
}

// DecodeValue resolves one payload value to its plain JSON form. Plain
// values pass through unchanged; encrypted values are decrypted and
// re-encoded as a JSON string.
func (c *Codec) DecodeValue(value domain.PayloadValue) (json.RawMessage, error) {
	if !value.IsEncrypted() {
		return value.Plain, nil
	}

	plaintext, err := c.Decrypt(value.Encrypted)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encode decrypted value: %w", err)
	}
	return raw, nil
}

// DecodePayload resolves every value of a payload to its plain form.
func (c *Codec) DecodePayload(
	data map[string]domain.PayloadValue,
) (map[string]json.RawMessage, error) {
	decoded := make(map[string]json.RawMessage, len(data))
	for key, value := range data {
		raw, err := c.DecodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		decoded[key] = raw
	}
	return decoded, nil
}

// deriveKey stretches the secret into a cipher key using argon2id.
func (c *Codec) deriveKey(salt []byte) []byte {
	return argon2.IDKey([]byte(c.secret), salt, argonTime, argonMemory, argonThreads,
		chacha20poly1305.KeySize)
}
