package ton

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/xssnick/tonutils-go/tlb"
)

// NanoPerTON is the number of nanoTON in one TON.
const NanoPerTON = 1_000_000_000

// ParseTON converts a decimal TON string (e.g. "5.5") to coins.
// Fraction digits past the ninth are truncated, not rounded.
func ParseTON(tonStr string) (tlb.Coins, error) {
	tonStr = strings.TrimSpace(tonStr)
	if tonStr == "" {
		return tlb.Coins{}, fmt.Errorf("empty TON amount")
	}

	parts := strings.Split(tonStr, ".")
	if len(parts) > 2 {
		return tlb.Coins{}, fmt.Errorf("invalid TON amount: %s", tonStr)
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || !isDigits(frac) {
		return tlb.Coins{}, fmt.Errorf("invalid TON amount: %s", tonStr)
	}

	if len(frac) > 9 {
		frac = frac[:9]
	}
	frac += strings.Repeat("0", 9-len(frac))

	nano, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return tlb.Coins{}, fmt.Errorf("invalid TON amount: %s", tonStr)
	}
	return tlb.FromNanoTON(nano), nil
}

// ParseNano parses an integer nanoTON string of arbitrary size.
func ParseNano(nanoStr string) (*big.Int, error) {
	nanoStr = strings.TrimSpace(nanoStr)
	if nanoStr == "" || !isDigits(nanoStr) {
		return nil, fmt.Errorf("invalid nanoTON amount: %q", nanoStr)
	}
	n, ok := new(big.Int).SetString(nanoStr, 10)
	if !ok {
		return nil, fmt.Errorf("invalid nanoTON amount: %q", nanoStr)
	}
	return n, nil
}

// FormatNano renders a nanoTON string as TON without trailing zeros.
func FormatNano(nanoStr string) (string, error) {
	n, err := ParseNano(nanoStr)
	if err != nil {
		return "", err
	}
	return tlb.FromNanoTON(n).String(), nil
}

// CompareNano returns -1, 0 or 1 like big.Int.Cmp.
func CompareNano(a, b string) (int, error) {
	x, err := ParseNano(a)
	if err != nil {
		return 0, err
	}
	y, err := ParseNano(b)
	if err != nil {
		return 0, err
	}
	return x.Cmp(y), nil
}

// ClassifyAmount compares a received amount against the expected one.
// Anything above expected+tolerance counts as an overpayment.
func ClassifyAmount(received, expected, tolerance *big.Int) int {
	if received.Cmp(expected) < 0 {
		return -1
	}
	limit := new(big.Int).Add(expected, tolerance)
	if received.Cmp(limit) > 0 {
		return 1
	}
	return 0
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
