// Package registry reads audit records from the on-chain AuditRegistry
// contract.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	xerrors "AuditFi/internal/errors"
	loggerpkg "AuditFi/pkg/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// CodeCallFailed marks a failed contract read.
const CodeCallFailed xerrors.Code = "REGISTRY_CALL_FAILED"

func init() {
	xerrors.Register(CodeCallFailed, xerrors.Attributes{
		Message:       "failed to process blockchain request",
		Severity:      xerrors.SeverityWarning,
		UserRetriable: true,
	})
}

const (
	MethodTotalContracts = "getTotalContracts"
	MethodAllAudits      = "getAllAudits"
	MethodAuditorHistory = "getAuditorHistory"
	MethodContractAudits = "getContractAudits"
)

// Config locates the registry contract.
type Config struct {
	RPCURL          string
	ContractAddress string
}

// Entry is one audit record with numeric fields normalised.
type Entry struct {
	ContractHash string `json:"contractHash,omitempty"`
	Stars        int    `json:"stars"`
	Summary      string `json:"summary"`
	Auditor      string `json:"auditor"`
	Timestamp    int64  `json:"timestamp"`
}

type auditTuple struct {
	Stars     uint8
	Summary   string
	Auditor   common.Address
	Timestamp *big.Int
}

// Reader issues eth_call requests against the registry.
type Reader struct {
	caller  ethereum.ContractCaller
	address common.Address
	abi     abi.ABI
	logger  *slog.Logger
	closer  func()
}

// Dial connects to cfg.RPCURL.
func Dial(ctx context.Context, cfg Config) (*Reader, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, errors.New("registry rpc url is required")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect registry rpc: %w", err)
	}
	r, err := NewReader(client, cfg.ContractAddress)
	if err != nil {
		client.Close()
		return nil, err
	}
	r.closer = client.Close
	return r, nil
}

// NewReader wraps an existing contract caller.
func NewReader(caller ethereum.ContractCaller, contractAddress string) (*Reader, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid registry contract address %q", contractAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(auditRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	return &Reader{
		caller:  caller,
		address: common.HexToAddress(contractAddress),
		abi:     parsed,
		logger:  loggerpkg.Named("registry"),
	}, nil
}

// Close releases the RPC connection opened by Dial.
func (r *Reader) Close() {
	if r != nil && r.closer != nil {
		r.closer()
	}
}

func (r *Reader) call(ctx context.Context, method string, args ...any) ([]any, error) {
	input, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode "+method)
	}
	output, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: input}, nil)
	if err != nil {
		r.logger.Warn("registry call failed", "method", method, "error", err)
		return nil, xerrors.Wrap(CodeCallFailed, err, "", xerrors.WithMetadata("method", method))
	}
	values, err := r.abi.Unpack(method, output)
	if err != nil {
		return nil, xerrors.Wrap(CodeCallFailed, err, "decode "+method, xerrors.WithMetadata("method", method))
	}
	return values, nil
}

// TotalContracts returns the number of audited contracts.
func (r *Reader) TotalContracts(ctx context.Context) (int64, error) {
	out, err := r.call(ctx, MethodTotalContracts)
	if err != nil {
		return 0, err
	}
	return toInt64(*abi.ConvertType(out[0], new(*big.Int)).(**big.Int)), nil
}

// AllAudits returns a page of audits.
func (r *Reader) AllAudits(ctx context.Context, startIndex, limit uint64) ([]Entry, error) {
	out, err := r.call(ctx, MethodAllAudits, new(big.Int).SetUint64(startIndex), new(big.Int).SetUint64(limit))
	if err != nil {
		return nil, err
	}
	hashes := *abi.ConvertType(out[0], new([][32]byte)).(*[][32]byte)
	stars := *abi.ConvertType(out[1], new([]uint8)).(*[]uint8)
	summaries := *abi.ConvertType(out[2], new([]string)).(*[]string)
	auditors := *abi.ConvertType(out[3], new([]common.Address)).(*[]common.Address)
	timestamps := *abi.ConvertType(out[4], new([]*big.Int)).(*[]*big.Int)

	n := min(len(hashes), len(stars), len(summaries), len(auditors), len(timestamps))
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, Entry{
			ContractHash: common.Hash(hashes[i]).Hex(),
			Stars:        int(stars[i]),
			Summary:      summaries[i],
			Auditor:      auditors[i].Hex(),
			Timestamp:    toInt64(timestamps[i]),
		})
	}
	return entries, nil
}

// AuditorHistory returns the contract hashes audited by auditor.
func (r *Reader) AuditorHistory(ctx context.Context, auditor common.Address) ([]string, error) {
	out, err := r.call(ctx, MethodAuditorHistory, auditor)
	if err != nil {
		return nil, err
	}
	hashes := *abi.ConvertType(out[0], new([][32]byte)).(*[][32]byte)
	result := make([]string, 0, len(hashes))
	for _, h := range hashes {
		result = append(result, common.Hash(h).Hex())
	}
	return result, nil
}

// ContractAudits returns every audit of the contract with the given hash.
func (r *Reader) ContractAudits(ctx context.Context, contractHash common.Hash) ([]Entry, error) {
	out, err := r.call(ctx, MethodContractAudits, [32]byte(contractHash))
	if err != nil {
		return nil, err
	}
	tuples := *abi.ConvertType(out[0], new([]auditTuple)).(*[]auditTuple)
	entries := make([]Entry, 0, len(tuples))
	for _, t := range tuples {
		entries = append(entries, Entry{
			Stars:     int(t.Stars),
			Summary:   t.Summary,
			Auditor:   t.Auditor.Hex(),
			Timestamp: toInt64(t.Timestamp),
		})
	}
	return entries, nil
}

func toInt64(v *big.Int) int64 {
	if v == nil || !v.IsInt64() {
		return 0
	}
	return v.Int64()
}
