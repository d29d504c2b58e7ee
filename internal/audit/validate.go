package audit

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

var (
	pragmaPattern   = regexp.MustCompile(`pragma\s+solidity\s*\^?[0-9]+\.[0-9]+\.[0-9]+;?`)
	contractPattern = regexp.MustCompile(`contract\s+[A-Za-z_][A-Za-z0-9_]*\s*\{`)
	importPattern   = regexp.MustCompile(`import\s+['"].*['"];`)
	hashPattern     = regexp.MustCompile(`^0x[0-9a-f]{64}$`)
)

// IsSolidity 粗略判断输入是否像 Solidity 源码：包含 pragma、合约声明或 import 之一。
func IsSolidity(source string) bool {
	return pragmaPattern.MatchString(source) ||
		contractPattern.MatchString(source) ||
		importPattern.MatchString(source)
}

// ContractHash 返回源码 UTF-8 字节的 keccak256 哈希。
func ContractHash(source string) string {
	return crypto.Keccak256Hash([]byte(source)).Hex()
}

// NormalizeHash 把合约哈希统一为小写 0x 前缀形式，不合法时返回空串。
func NormalizeHash(hash string) string {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if !strings.HasPrefix(hash, "0x") {
		hash = "0x" + hash
	}
	if !hashPattern.MatchString(hash) {
		return ""
	}
	return hash
}
