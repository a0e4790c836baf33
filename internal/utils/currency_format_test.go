package utils

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMinorUnits(t *testing.T) {
	tests := []struct {
		amount   int64
		currency string
		want     string
	}{
		{5000, "XOF", "5000"},
		{12345, "USD", "123.45"},
		{-300, "EUR", "-3.00"},
		{7, "usd", "0.07"},
		{1234, "KWD", "1.234"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatMinorUnits(tt.amount, tt.currency), "%d %s", tt.amount, tt.currency)
	}
}

func TestGenerateReference(t *testing.T) {
	now := time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)
	ref, err := GenerateReference(now)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^FKash-2024-03-09-[0-9a-f]{10}$`), ref)

	other, err := GenerateReference(now)
	require.NoError(t, err)
	assert.NotEqual(t, ref, other)
}
