package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCents(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"125.00", 12500},
		{"125", 12500},
		{"0.01", 1},
		{"0", 0},
		{"-3.50", -350},
		{"1.230", 123}, // 多余的零不算超位
		{"9999999.99", 999999999},
	}
	for _, tt := range tests {
		got, err := ParseCents(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestParseCents_RejectsSubCentPrecision(t *testing.T) {
	for _, input := range []string{"0.001", "1.005", "-2.345"} {
		_, err := ParseCents(input)
		assert.ErrorIs(t, err, ErrTooManyDecimals, input)
	}
}

func TestParseCents_RejectsBadFormat(t *testing.T) {
	for _, input := range []string{"", "abc", "1.2.3", "12,50"} {
		_, err := ParseCents(input)
		assert.ErrorIs(t, err, ErrInvalidAmount, input)
	}
}

// 浮点数搞不定的经典场景：0.1 + 0.2 必须精确等于 0.3
func TestParseCents_NoFloatDrift(t *testing.T) {
	a, err := ParseCents("0.1")
	require.NoError(t, err)
	b, err := ParseCents("0.2")
	require.NoError(t, err)
	c, err := ParseCents("0.3")
	require.NoError(t, err)
	assert.Equal(t, c, a+b)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "125.00", FormatCents(12500))
	assert.Equal(t, "0.01", FormatCents(1))
	assert.Equal(t, "0.00", FormatCents(0))
	assert.Equal(t, "-3.50", FormatCents(-350))
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, cents := range []int64{0, 1, 99, 100, 12500, -350, 999999999} {
		parsed, err := ParseCents(FormatCents(cents))
		require.NoError(t, err)
		assert.Equal(t, cents, parsed)
	}
}
