// Package format renders account addresses and balances for display.
package format

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	addressPrefixLen = 6
	addressSuffixLen = 4

	// NativeDecimals is the decimals of every native currency in the chain registry.
	NativeDecimals = 18
	// DisplayFraction is the number of fractional digits kept when rendering balances.
	DisplayFraction = 4
)

// ParseAddress validates a 20-byte hex account id.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid account address %q", s)
	}
	return common.HexToAddress(s), nil
}

// ChecksumAddress returns the EIP-55 form of a well-formed address, or the
// trimmed input unchanged otherwise.
func ChecksumAddress(s string) string {
	addr, err := ParseAddress(s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return addr.Hex()
}

// FormatAddress truncates an address to "0xabcd...wxyz". Well-formed addresses
// are checksummed first so the output does not depend on the input's case.
func FormatAddress(s string) string {
	s = ChecksumAddress(s)
	if len(s) <= addressPrefixLen+addressSuffixLen {
		return s
	}
	return s[:addressPrefixLen] + "..." + s[len(s)-addressSuffixLen:]
}

// FormatBalance converts a smallest-unit amount into a decimal string with at
// most maxFrac fractional digits. Digits beyond maxFrac are truncated and
// trailing zeros removed.
//
//	FormatBalance(1234500000000000000, 18, 4) -> "1.2345"
//	FormatBalance(1000000000000000000, 18, 4) -> "1"
//	FormatBalance(1, 18, 4)                   -> "0"
func FormatBalance(amount *big.Int, decimals uint8, maxFrac int) string {
	if amount == nil || amount.Sign() == 0 {
		return "0"
	}

	sign := ""
	abs := new(big.Int).Set(amount)
	if abs.Sign() < 0 {
		sign = "-"
		abs.Neg(abs)
	}

	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	intPart, fracPart := new(big.Int).QuoRem(abs, base, new(big.Int))

	if fracPart.Sign() == 0 || maxFrac <= 0 || decimals == 0 {
		return sign + intPart.String()
	}

	frac := fracPart.String()
	if len(frac) < int(decimals) {
		frac = strings.Repeat("0", int(decimals)-len(frac)) + frac
	}
	if len(frac) > maxFrac {
		frac = frac[:maxFrac]
	}
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		if intPart.Sign() == 0 {
			return "0"
		}
		return sign + intPart.String()
	}
	return sign + intPart.String() + "." + frac
}

// FormatNative renders a native-currency balance with the display defaults.
func FormatNative(wei *big.Int) string {
	return FormatBalance(wei, NativeDecimals, DisplayFraction)
}
