package audit

import (
	"context"
	"errors"
	"time"

	"AuditFi/internal/analysis"
	xerrors "AuditFi/internal/errors"
)

const (
	CodeValidationFailed xerrors.Code = "AUDIT_VALIDATION_FAILED"
	CodeCooldown         xerrors.Code = "AUDIT_COOLDOWN"
	CodeAnalysisFailed   xerrors.Code = "AUDIT_ANALYSIS_FAILED"
)

func init() {
	xerrors.Register(CodeValidationFailed, xerrors.Attributes{
		Message:  "合约源码校验失败",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeCooldown, xerrors.Attributes{
		Message:       "提交过于频繁，请稍后再试",
		Severity:      xerrors.SeverityInfo,
		UserRetriable: true,
	})
	xerrors.Register(CodeAnalysisFailed, xerrors.Attributes{
		Message:       "合约分析失败",
		Severity:      xerrors.SeverityWarning,
		UserRetriable: true,
	})
}

// Report 是一份已完成的审计报告。
type Report struct {
	ID               string                   `json:"id"`
	ContractHash     string                   `json:"contractHash"`
	Auditor          string                   `json:"auditor"`
	Stars            int                      `json:"stars"`
	Summary          string                   `json:"summary"`
	Vulnerabilities  analysis.Vulnerabilities `json:"vulnerabilities"`
	Recommendations  []string                 `json:"recommendations"`
	GasOptimizations []string                 `json:"gasOptimizations"`
	CreatedAt        time.Time                `json:"createdAt"`
}

// Store 抽象审计报告的持久化接口。
type Store interface {
	Save(ctx context.Context, report Report) error
	Latest(ctx context.Context, limit int) ([]Report, error)
	ByContractHash(ctx context.Context, hash string) ([]Report, error)
	// Get 返回指定 ID 的报告，不存在时返回 ErrReportNotFound。
	Get(ctx context.Context, id string) (*Report, error)
}

// ErrReportNotFound 表示报告不存在。
var ErrReportNotFound = errors.New("audit report not found")

const defaultListLimit = 20

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
