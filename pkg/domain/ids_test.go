package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "titledeed/pkg/domain-errors"
)

// Application ids are rejected before any lookup unless they are
// positive integers.
func TestParseApplicationID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ApplicationID
		wantErr bool
	}{
		{"valid", "42", 42, false},
		{"surrounding whitespace", " 42 ", 42, false},
		{"empty", "", 0, true},
		{"zero", "0", 0, true},
		{"negative", "-7", 0, true},
		{"SQL injection attempt", "42; DROP TABLE land;--", 0, true},
		{"float", "4.2", 0, true},
		{"overflow", "99999999999999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseApplicationID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDeedNumber(t *testing.T) {
	t.Run("accepts 32 lowercase hex", func(t *testing.T) {
		d, err := ParseDeedNumber("0123456789abcdef0123456789abcdef")
		require.NoError(t, err)
		assert.Equal(t, "0123456789abcdef0123456789abcdef", d.String())
	})

	for _, bad := range []string{
		"",
		"0123456789ABCDEF0123456789ABCDEF",
		"0123456789abcdef",
		"zz23456789abcdef0123456789abcdef",
		strings.Repeat("a", 33),
	} {
		t.Run("rejects "+bad, func(t *testing.T) {
			_, err := ParseDeedNumber(bad)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestParseTxHash(t *testing.T) {
	valid := "0x" + strings.Repeat("ab", 32)

	t.Run("normalizes to lowercase", func(t *testing.T) {
		h, err := ParseTxHash(strings.ToUpper(valid[:2]) + strings.ToUpper(valid[2:]))
		require.NoError(t, err)
		assert.Equal(t, TxHash(valid), h)
	})

	for _, bad := range []string{"", strings.Repeat("ab", 32), "0x" + strings.Repeat("ab", 31), "0x" + strings.Repeat("zz", 32)} {
		t.Run("rejects "+bad, func(t *testing.T) {
			_, err := ParseTxHash(bad)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestParseAttemptID(t *testing.T) {
	_, err := ParseAttemptID(uuid.Nil.String())
	require.Error(t, err)

	id := NewAttemptID()
	parsed, err := ParseAttemptID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestAttemptIDJSON(t *testing.T) {
	id := NewAttemptID()
	raw, err := json.Marshal(map[string]AttemptID{"id": id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(raw))

	var back map[string]AttemptID
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, id, back["id"])
}
