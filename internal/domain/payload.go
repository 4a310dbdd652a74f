package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncryptedField is the on-disk form of an encrypted payload value:
// {"encrypted": true, "data": b64, "salt": b64, "nonce": b64}.
// All three binary members are base64 encoded.
type EncryptedField struct {
	Encrypted bool   `json:"encrypted"`
	Data      string `json:"data"`
	Salt      string `json:"salt"`
	Nonce     string `json:"nonce"`
}

// Validate checks that all binary members of the field are present.
func (f *EncryptedField) Validate() error {
	if !f.Encrypted {
		return fmt.Errorf("%w: encrypted tag not set", ErrEncryptedFieldInvalid)
	}
	if f.Data == "" || f.Salt == "" || f.Nonce == "" {
		return fmt.Errorf("%w: data, salt and nonce are required", ErrEncryptedFieldInvalid)
	}
	return nil
}

// PayloadValue is a tagged union over the two shapes a payload value can
// take: an arbitrary plain JSON value, or an EncryptedField. The tag is the
// "encrypted": true member; any other value, including objects that merely
// contain an "encrypted" key with a false value, is treated as plain and
// passed through unchanged.
type PayloadValue struct {
	// Plain holds the raw JSON of an unencrypted value. Nil when the value
	// is encrypted.
	Plain json.RawMessage

	// Encrypted holds the decoded encrypted field. Nil when the value is
	// plain.
	Encrypted *EncryptedField
}

// PlainValue wraps an already-encoded JSON value as a plain payload value.
func PlainValue(raw json.RawMessage) PayloadValue {
	return PayloadValue{Plain: raw}
}

// PlainString wraps a string as a plain payload value.
func PlainString(s string) PayloadValue {
	raw, _ := json.Marshal(s)
	return PayloadValue{Plain: raw}
}

// EncryptedValue wraps an EncryptedField as a payload value.
func EncryptedValue(field *EncryptedField) PayloadValue {
	return PayloadValue{Encrypted: field}
}

// IsEncrypted reports whether the value carries an encrypted field.
func (v PayloadValue) IsEncrypted() bool {
	return v.Encrypted != nil
}

// UnmarshalJSON decodes either branch of the union based on the
// "encrypted" tag.
func (v *PayloadValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var probe struct {
			Encrypted bool `json:"encrypted"`
		}
		// A decode failure here means the object has an "encrypted" member
		// of the wrong type; such values are not a valid union branch.
		if err := json.Unmarshal(data, &probe); err == nil && probe.Encrypted {
			var field EncryptedField
			if err := json.Unmarshal(data, &field); err != nil {
				return fmt.Errorf("%w: %v", ErrEncryptedFieldInvalid, err)
			}
			if err := field.Validate(); err != nil {
				return err
			}
			v.Encrypted = &field
			v.Plain = nil
			return nil
		}
	}

	v.Plain = append(json.RawMessage(nil), data...)
	v.Encrypted = nil
	return nil
}

// MarshalJSON re-encodes whichever branch of the union is populated.
func (v PayloadValue) MarshalJSON() ([]byte, error) {
	if v.Encrypted != nil {
		return json.Marshal(v.Encrypted)
	}
	if v.Plain == nil {
		return []byte("null"), nil
	}
	return v.Plain, nil
}
