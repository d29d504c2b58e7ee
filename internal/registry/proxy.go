package registry

import (
	"context"
	"encoding/json"
	"strings"

	xerrors "AuditFi/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// Request is the body accepted by the query proxy.
type Request struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type pageParams struct {
	StartIndex uint64 `json:"startIndex"`
	Limit      uint64 `json:"limit"`
}

// Querier is the read surface the proxy dispatches to.
type Querier interface {
	TotalContracts(ctx context.Context) (int64, error)
	AllAudits(ctx context.Context, startIndex, limit uint64) ([]Entry, error)
	AuditorHistory(ctx context.Context, auditor common.Address) ([]string, error)
	ContractAudits(ctx context.Context, contractHash common.Hash) ([]Entry, error)
}

// Dispatch routes req to the matching registry read. Unknown methods and
// malformed params are INVALID_ARGUMENT.
func Dispatch(ctx context.Context, q Querier, req Request) (any, error) {
	switch req.Method {
	case MethodTotalContracts:
		return q.TotalContracts(ctx)
	case MethodAllAudits:
		var p pageParams
		if err := firstParam(req, &p); err != nil {
			return nil, err
		}
		return q.AllAudits(ctx, p.StartIndex, p.Limit)
	case MethodAuditorHistory:
		var raw string
		if err := firstParam(req, &raw); err != nil {
			return nil, err
		}
		if !common.IsHexAddress(raw) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid auditor address")
		}
		return q.AuditorHistory(ctx, common.HexToAddress(raw))
	case MethodContractAudits:
		var raw string
		if err := firstParam(req, &raw); err != nil {
			return nil, err
		}
		hash, err := parseHash(raw)
		if err != nil {
			return nil, err
		}
		return q.ContractAudits(ctx, hash)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Unsupported method: "+req.Method)
	}
}

func firstParam(req Request, dst any) error {
	if len(req.Params) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, req.Method+" requires params[0]")
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "malformed params for "+req.Method)
	}
	return nil
}

func parseHash(raw string) (common.Hash, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if len(s) != 2*common.HashLength {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "invalid contract hash")
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "invalid contract hash")
		}
	}
	return common.HexToHash(s), nil
}

var _ Querier = (*Reader)(nil)
