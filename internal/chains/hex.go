package chains

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseID decodes a chain id as reported by a wallet. Wallets send 0x-prefixed
// hex; a bare hex string is accepted as well.
func ParseID(raw string) (uint64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("empty chain id %q", raw)
	}
	id, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q: %w", raw, err)
	}
	return id, nil
}

// EncodeID renders a chain id in the wallet's hex encoding.
func EncodeID(id uint64) string {
	return hexutil.EncodeUint64(id)
}
