package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	xerrors "AuditFi/internal/errors"
	loggerpkg "AuditFi/pkg/logger"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// MethodRegisterAudit records an audit on chain.
const MethodRegisterAudit = "registerAudit"

// CodeNotAuditor marks a registration attempted by someone other than the
// report's auditor.
const CodeNotAuditor xerrors.Code = "REGISTRY_NOT_AUDITOR"

func init() {
	xerrors.Register(CodeNotAuditor, xerrors.Attributes{
		Message:  "only the auditor can register this report",
		Severity: xerrors.SeverityInfo,
	})
}

const (
	// MaxStars is the highest rating the contract accepts.
	MaxStars = 5
	// DefaultReportBaseURI prefixes report ids when no public base is configured.
	DefaultReportBaseURI = "auditfi://reports"
)

// Sender submits a transaction signed by the connected wallet.
type Sender interface {
	SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// Registration is one audit to record on chain.
type Registration struct {
	ContractHash common.Hash
	Stars        int
	ReportURI    string
}

// Registrar writes audits to the registry through the connected wallet. The
// wallet signs and pays for the transaction; the registrar never holds keys.
type Registrar struct {
	sender  Sender
	address common.Address
	abi     abi.ABI
	logger  *slog.Logger
}

// NewRegistrar binds sender to the registry contract at contractAddress.
func NewRegistrar(sender Sender, contractAddress string) (*Registrar, error) {
	if sender == nil {
		return nil, errors.New("registry sender is required")
	}
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid registry contract address %q", contractAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(auditRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	return &Registrar{
		sender:  sender,
		address: common.HexToAddress(contractAddress),
		abi:     parsed,
		logger:  loggerpkg.Named("registry"),
	}, nil
}

// Address returns the registry contract address.
func (r *Registrar) Address() common.Address {
	return r.address
}

// Register encodes registerAudit and hands it to the wallet. It returns the
// transaction hash; inclusion is not awaited.
func (r *Registrar) Register(ctx context.Context, reg Registration) (common.Hash, error) {
	if reg.Stars < 0 || reg.Stars > MaxStars {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "stars out of range",
			xerrors.WithMetadata("stars", fmt.Sprint(reg.Stars)))
	}
	input, err := r.abi.Pack(MethodRegisterAudit, [32]byte(reg.ContractHash), uint8(reg.Stars), reg.ReportURI)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode "+MethodRegisterAudit)
	}
	tx, err := r.sender.SendTransaction(ctx, r.address, input)
	if err != nil {
		return common.Hash{}, err
	}
	r.logger.Info("audit registration submitted",
		"contract_hash", reg.ContractHash.Hex(), "stars", reg.Stars, "tx_hash", tx.Hex())
	return tx, nil
}

// ReportURI builds the reference stored on chain for a report.
func ReportURI(base, reportID string) string {
	if base == "" {
		base = DefaultReportBaseURI
	}
	return strings.TrimSuffix(base, "/") + "/" + reportID
}
