package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"AuditFi/internal/analysis"
	xerrors "AuditFi/internal/errors"
	"AuditFi/internal/format"
	loggerpkg "AuditFi/pkg/logger"

	"github.com/google/uuid"
)

// DefaultCooldown 是同一审计人两次提交之间的最短间隔。
const DefaultCooldown = 30 * time.Second

// Option 定义 Service 的可选配置。
type Option func(*Service)

// WithCooldown 覆盖冷却时间，<= 0 表示不限制。
func WithCooldown(d time.Duration) Option {
	return func(s *Service) { s.cooldown = d }
}

// WithLogger 覆盖日志实例。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock 替换时间来源，便于测试。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service 串联源码校验、分析服务与报告存储。
type Service struct {
	store    Store
	analyzer analysis.Provider
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

// NewService 创建审计服务。
func NewService(store Store, analyzer analysis.Provider, opts ...Option) *Service {
	s := &Service{
		store:    store,
		analyzer: analyzer,
		cooldown: DefaultCooldown,
		now:      time.Now,
		logger:   loggerpkg.Named("audit"),
		last:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit 分析 auditor 提交的源码并保存报告。
func (s *Service) Submit(ctx context.Context, auditor, source string) (*Report, error) {
	addr, err := format.ParseAddress(auditor)
	if err != nil {
		return nil, xerrors.Wrap(CodeValidationFailed, err, "请先连接钱包")
	}
	auditor = addr.Hex()
	if strings.TrimSpace(source) == "" {
		return nil, xerrors.New(CodeValidationFailed, "请输入合约源码")
	}
	if !IsSolidity(source) {
		return nil, xerrors.New(CodeValidationFailed, "输入内容不是有效的 Solidity 合约")
	}
	if s.analyzer == nil {
		return nil, xerrors.New(CodeAnalysisFailed, "未配置分析服务")
	}

	release, err := s.reserve(auditor)
	if err != nil {
		return nil, err
	}

	hash := ContractHash(source)
	result, err := s.analyzer.Analyze(ctx, source)
	if err != nil {
		release()
		s.logger.Warn("合约分析失败", "auditor", auditor, "contract_hash", hash, "error", err)
		return nil, xerrors.Wrap(CodeAnalysisFailed, err, "")
	}
	analysis.ClampStars(result)

	report := Report{
		ID:               uuid.NewString(),
		ContractHash:     hash,
		Auditor:          auditor,
		Stars:            result.Stars,
		Summary:          result.Summary,
		Vulnerabilities:  result.Vulnerabilities,
		Recommendations:  result.Recommendations,
		GasOptimizations: result.GasOptimizations,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.store.Save(ctx, report); err != nil {
		release()
		s.logger.Warn("保存审计报告失败", "auditor", auditor, "contract_hash", hash, "error", err)
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存审计报告失败")
	}
	s.logger.Info("审计完成", "report_id", report.ID, "auditor", auditor, "contract_hash", hash, "stars", report.Stars)
	return &report, nil
}

// reserve 为 auditor 占用一次提交；返回的函数在分析或保存失败时撤销占用。
func (s *Service) reserve(auditor string) (func(), error) {
	if s.cooldown <= 0 {
		return func() {}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	previous, seen := s.last[auditor]
	if seen {
		if wait := previous.Add(s.cooldown).Sub(now); wait > 0 {
			return nil, xerrors.New(CodeCooldown, "",
				xerrors.WithMetadata("retry_after", wait.Round(time.Second).String()))
		}
	}
	s.last[auditor] = now
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.last[auditor].Equal(now) {
			if seen {
				s.last[auditor] = previous
			} else {
				delete(s.last, auditor)
			}
		}
	}, nil
}

// Latest 返回最近的报告。
func (s *Service) Latest(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	reports, err := s.store.Latest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询审计报告失败")
	}
	return reports, nil
}

// Get 返回指定 ID 的报告。
func (s *Service) Get(ctx context.Context, id string) (*Report, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "报告 ID 为空")
	}
	report, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrReportNotFound) {
		return nil, xerrors.New(xerrors.CodeNotFound, "审计报告不存在", xerrors.WithMetadata("report_id", id))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询审计报告失败")
	}
	return report, nil
}

// ByContractHash 返回某个合约的全部报告。
func (s *Service) ByContractHash(ctx context.Context, hash string) ([]Report, error) {
	normalized := NormalizeHash(hash)
	if normalized == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "合约哈希格式不正确")
	}
	reports, err := s.store.ByContractHash(ctx, normalized)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询审计报告失败")
	}
	return reports, nil
}
