package chains

import (
	"errors"
	"sort"
)

// DefaultChainID is the network AuditFi expects users to operate on.
const DefaultChainID uint64 = 1043

// ErrChainNotFound is returned when a chain id is not in the registry.
var ErrChainNotFound = errors.New("chain not found")

// Config describes a supported network. Values are never mutated after the
// registry is built.
type Config struct {
	ID          uint64 `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	RPCURL      string `json:"rpcUrl" yaml:"rpc_url"`
	ExplorerURL string `json:"explorerUrl" yaml:"explorer_url"`
	Currency    string `json:"currency" yaml:"currency"`
	Testnet     bool   `json:"testnet" yaml:"testnet"`
}

// HexID returns the chain id in the wallet's 0x-prefixed encoding.
func (c Config) HexID() string {
	return EncodeID(c.ID)
}

var builtin = []Config{
	{
		ID:          1043,
		Name:        "BlockDAG Testnet",
		RPCURL:      "https://rpc.primordial.bdagscan.com",
		ExplorerURL: "https://primordial.bdagscan.com",
		Currency:    "BDAG",
		Testnet:     true,
	},
	{
		ID:          1,
		Name:        "Ethereum",
		RPCURL:      "https://eth.llamarpc.com",
		ExplorerURL: "https://etherscan.io",
		Currency:    "ETH",
	},
	{
		ID:          137,
		Name:        "Polygon",
		RPCURL:      "https://polygon-rpc.com",
		ExplorerURL: "https://polygonscan.com",
		Currency:    "MATIC",
	},
	{
		ID:          10,
		Name:        "Optimism",
		RPCURL:      "https://mainnet.optimism.io",
		ExplorerURL: "https://optimistic.etherscan.io",
		Currency:    "ETH",
	},
	{
		ID:          42161,
		Name:        "Arbitrum",
		RPCURL:      "https://arb1.arbitrum.io/rpc",
		ExplorerURL: "https://arbiscan.io",
		Currency:    "ETH",
	},
}

// Registry is a read-only lookup of supported chains keyed by chain id.
type Registry struct {
	defaultID uint64
	byID      map[uint64]Config
}

// NewRegistry builds a registry from the built-in chain set followed by any
// extra entries. Later entries replace earlier ones with the same id.
func NewRegistry(defaultID uint64, extra ...Config) (*Registry, error) {
	r := &Registry{byID: make(map[uint64]Config, len(builtin)+len(extra))}
	for _, c := range builtin {
		r.byID[c.ID] = c
	}
	for _, c := range extra {
		if c.ID == 0 {
			return nil, errors.New("chain id is required")
		}
		r.byID[c.ID] = c
	}
	if defaultID == 0 {
		defaultID = DefaultChainID
	}
	if _, ok := r.byID[defaultID]; !ok {
		return nil, ErrChainNotFound
	}
	r.defaultID = defaultID
	return r, nil
}

// Default returns the default chain configuration.
func (r *Registry) Default() Config {
	return r.byID[r.defaultID]
}

// DefaultID returns the id of the default chain.
func (r *Registry) DefaultID() uint64 {
	return r.defaultID
}

// Lookup finds a chain by id.
func (r *Registry) Lookup(id uint64) (Config, bool) {
	if r == nil {
		return Config{}, false
	}
	c, ok := r.byID[id]
	return c, ok
}

// Get is Lookup with an error result.
func (r *Registry) Get(id uint64) (Config, error) {
	c, ok := r.Lookup(id)
	if !ok {
		return Config{}, ErrChainNotFound
	}
	return c, nil
}

// All returns every chain sorted by id.
func (r *Registry) All() []Config {
	out := make([]Config, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
