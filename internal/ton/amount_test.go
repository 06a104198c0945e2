package ton

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTON(t *testing.T) {
	tests := []struct {
		in   string
		nano string
	}{
		{"5", "5000000000"},
		{"5.5", "5500000000"},
		{" 0.000000001 ", "1"},
		{".25", "250000000"},
		{"1.1234567891", "1123456789"}, // tenth digit truncated
		{"100000000000.000000001", "100000000000000000001"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseTON(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.nano, c.Nano().String())
		})
	}
}

func TestParseTON_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "1.2.3", "abc", "-1", "1e9", "1,5"} {
		_, err := ParseTON(in)
		assert.Error(t, err, in)
	}
}

func TestFormatNano(t *testing.T) {
	tests := map[string]string{
		"5500000000":                     "5.5",
		"1000000000":                     "1",
		"1":                              "0.000000001",
		"0":                              "0",
		"123456789012345678901234567890": "123456789012345678901.23456789",
	}
	for in, want := range tests {
		got, err := FormatNano(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := FormatNano("12.5")
	assert.Error(t, err)
}

func TestCompareNano_ArbitraryPrecision(t *testing.T) {
	c, err := CompareNano("18446744073709551616", "18446744073709551615")
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	c, err = CompareNano("7", "7")
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	_, err = CompareNano("7", "x")
	assert.Error(t, err)
}

func TestClassifyAmount(t *testing.T) {
	expected := big.NewInt(1000)
	tolerance := big.NewInt(10)

	assert.Equal(t, -1, ClassifyAmount(big.NewInt(999), expected, tolerance))
	assert.Equal(t, 0, ClassifyAmount(big.NewInt(1000), expected, tolerance))
	assert.Equal(t, 0, ClassifyAmount(big.NewInt(1010), expected, tolerance))
	assert.Equal(t, 1, ClassifyAmount(big.NewInt(1011), expected, tolerance))
	assert.Equal(t, 1, ClassifyAmount(big.NewInt(1001), expected, big.NewInt(0)))
}
