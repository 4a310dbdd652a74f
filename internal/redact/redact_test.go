package redact

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringRedactsCredentials(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		input   string
		leaked  string
		visible string
	}{
		{
			name:    "password assignment",
			input:   "decrypt failed: password=hunter2 rejected",
			leaked:  "hunter2",
			visible: "decrypt failed",
		},
		{
			name:    "secret key value",
			input:   `config error: secret="sk_live_abcdef123456" invalid`,
			leaked:  "sk_live_abcdef123456",
			visible: "config error",
		},
		{
			name:    "base64 ciphertext blob",
			input:   "field body: bad ciphertext dGhpcyBpcyBhIGxvbmcgY2lwaGVydGV4dCBibG9i",
			leaked:  "dGhpcyBpcyBhIGxvbmcgY2lwaGVydGV4dCBibG9i",
			visible: "bad ciphertext",
		},
		{
			name:    "email address",
			input:   "payload for alice@example.com failed",
			leaked:  "alice@example.com",
			visible: "failed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := String(tc.input)
			assert.NotContains(t, got, tc.leaked)
			assert.Contains(t, got, tc.visible)
		})
	}
}

func TestStringLeavesOrdinaryTextAlone(t *testing.T) {
	t.Parallel()

	input := "analyzer exited with code 3"
	assert.Equal(t, input, String(input))
	assert.Equal(t, "", String(""))
}

func TestError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", Error(nil))

	err := fmt.Errorf("claim failed: %w", errors.New("passphrase: opensesame1 rejected"))
	got := Error(err)
	assert.NotContains(t, got, "opensesame1")
	assert.Contains(t, got, "claim failed")
}
