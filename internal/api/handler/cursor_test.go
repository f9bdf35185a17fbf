package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisepythagoras/matilda/internal/api/domain"
	"github.com/wisepythagoras/matilda/internal/api/storage"
)

func TestRunCursor_RoundTrip(t *testing.T) {
	in := &storage.RunCursor{
		StartedAt: time.Date(2026, 3, 1, 12, 30, 45, 123456789, time.UTC),
		RunID:     "5b0e0b52-1f7a-4b8e-9a3e-2f3b0e9c0a01",
	}

	encoded := EncodeRunCursor(in)
	assert.NotContains(t, encoded, "=", "cursor is unpadded and URL safe")

	out, err := DecodeRunCursor(encoded)
	require.NoError(t, err)
	assert.True(t, in.StartedAt.Equal(out.StartedAt))
	assert.Equal(t, in.RunID, out.RunID)
}

func TestDecodeRunCursor(t *testing.T) {
	cursor, err := DecodeRunCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "%%%"},
		{"missing separator", base64.RawURLEncoding.EncodeToString([]byte("12345"))},
		{"empty run id", base64.RawURLEncoding.EncodeToString([]byte("12345|"))},
		{"non-numeric time", base64.RawURLEncoding.EncodeToString([]byte("yesterday|abc"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRunCursor(tt.input)
			assert.ErrorIs(t, err, domain.ErrInvalidCursor)
		})
	}
}
