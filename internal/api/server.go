package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AuditFi/internal/analysis"
	"AuditFi/internal/audit"
	"AuditFi/internal/chains"
	xerrors "AuditFi/internal/errors"
	"AuditFi/internal/format"
	"AuditFi/internal/observability/metrics"
	"AuditFi/internal/registry"
	"AuditFi/internal/routeguard"
	"AuditFi/internal/session"
	"AuditFi/internal/wallet"
	loggerpkg "AuditFi/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultNavigationWait  = 25 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	maxBodyBytes           = 1 << 20
)

// Pages 列出受路由守卫保护的页面。
var Pages = []string{"/", "/wallet", "/audit", "/reports", "/profile", "/testcase-generator", "/contract-builder"}

// Option 用于定制 Server。
type Option func(*Server)

// WithChains 设置链注册表，用于 /api/chains。
func WithChains(r *chains.Registry) Option {
	return func(s *Server) { s.chains = r }
}

// WithFlag 设置服务端连接标记，路由守卫在 Cookie 缺失时回退到它。
func WithFlag(flag session.Flag) Option {
	return func(s *Server) { s.flag = flag }
}

// WithGuard 替换默认的路由守卫。
func WithGuard(g *routeguard.Guard) Option {
	return func(s *Server) {
		if g != nil {
			s.guard = g
		}
	}
}

// WithRegistry 设置链上审计登记合约的查询入口。
func WithRegistry(q registry.Querier) Option {
	return func(s *Server) { s.registry = q }
}

// Registrar 通过已连接的钱包把审计结果写入链上登记合约。
type Registrar interface {
	Register(ctx context.Context, reg registry.Registration) (common.Hash, error)
}

// WithRegistrar 设置链上登记的写入方；reportBaseURI 为写入链上的报告地址前缀。
func WithRegistrar(r Registrar, reportBaseURI string) Option {
	return func(s *Server) {
		s.registrar = r
		s.reportBaseURI = reportBaseURI
	}
}

// WithGenerator 设置测试用例与合约生成服务。
func WithGenerator(g analysis.Generator) Option {
	return func(s *Server) { s.generator = g }
}

// WithAuditService 设置审计服务。
func WithAuditService(svc *audit.Service) Option {
	return func(s *Server) { s.audits = svc }
}

// WithMetrics 设置指标收集器。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		if c != nil {
			s.metrics = c
		}
	}
}

// WithLogger 替换默认日志器。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNavigationWait 设置导航长轮询的最长等待时间。
func WithNavigationWait(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.navigationWait = d
		}
	}
}

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// Server 负责暴露钱包、审计与链上查询的 HTTP 接口以及页面路由。
type Server struct {
	addr     string
	wallet   *wallet.Controller
	chains   *chains.Registry
	flag     session.Flag
	guard    *routeguard.Guard
	registry registry.Querier
	audits   *audit.Service
	metrics  *metrics.Collector
	logger   *slog.Logger

	registrar     Registrar
	reportBaseURI string
	generator     analysis.Generator

	navigationWait  time.Duration
	shutdownTimeout time.Duration
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, ctrl *wallet.Controller, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		wallet:          ctrl,
		guard:           routeguard.New(routeguard.Config{}),
		metrics:         metrics.NewCollector(),
		logger:          loggerpkg.Named("api"),
		navigationWait:  defaultNavigationWait,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.chains == nil {
		s.chains, _ = chains.NewRegistry(chains.DefaultChainID)
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("HTTP 服务已启动", "address", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回完整的路由表。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "/api/wallet/state", http.MethodGet, s.handleState)
	s.route(mux, "/api/wallet/connect", http.MethodPost, s.handleConnect)
	s.route(mux, "/api/wallet/disconnect", http.MethodPost, s.handleDisconnect)
	s.route(mux, "/api/wallet/switch", http.MethodPost, s.handleSwitch)
	s.route(mux, "/api/wallet/navigation", http.MethodGet, s.handleNavigation)
	s.route(mux, "/api/chains", http.MethodGet, s.handleChains)
	s.route(mux, "/api/blockchain", http.MethodPost, s.handleBlockchain)
	s.route(mux, "/api/audit", http.MethodPost, s.handleAudit)
	s.route(mux, "/api/audit/{id}/register", http.MethodPost, s.handleRegister)
	s.route(mux, "/api/reports", http.MethodGet, s.handleReports)
	s.route(mux, "/api/testcases", http.MethodPost, s.handleTestcases)
	s.route(mux, "/api/contracts/generate", http.MethodPost, s.handleGenerateContract)
	mux.Handle("/metrics", s.metrics.Handler())

	pages := s.guard.Middleware(routeguard.CookieOrStore(s.flag, s.logger))(http.HandlerFunc(s.handlePage))
	mux.Handle("/", s.metrics.Instrument("page", pages))
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, method string, h http.HandlerFunc) {
	mux.Handle(pattern, s.metrics.Instrument(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 "+method)
			return
		}
		h(w, r)
	})))
}

// stateView 是 ConnectionState 的对外投影。
type stateView struct {
	Phase            wallet.Phase   `json:"phase"`
	Connected        bool           `json:"connected"`
	Address          string         `json:"address,omitempty"`
	FormattedAddress string         `json:"formattedAddress,omitempty"`
	ChainID          *uint64        `json:"chainId,omitempty"`
	ChainHex         string         `json:"chainHex,omitempty"`
	Chain            *chains.Config `json:"chain,omitempty"`
	Supported        bool           `json:"supported"`
	Balance          string         `json:"balance,omitempty"`
}

func viewOf(st wallet.State) stateView {
	v := stateView{
		Phase:     st.Phase,
		Connected: st.Connected(),
		Address:   st.Address,
		ChainID:   st.ChainID,
		Chain:     st.Chain,
		Supported: st.Supported(),
		Balance:   st.Balance,
	}
	if st.Address != "" {
		v.FormattedAddress = format.FormatAddress(st.Address)
	}
	if st.ChainID != nil {
		v.ChainHex = chains.EncodeID(*st.ChainID)
	}
	return v
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(s.wallet.State()))
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.wallet.Connect(r.Context()); err != nil {
		session.WriteCookie(w, s.wallet.State().Connected())
		s.writeCodedError(w, err)
		return
	}
	st := s.wallet.State()
	if st.Connected() {
		session.WriteCookie(w, true)
	}
	writeJSON(w, http.StatusOK, viewOf(st))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.wallet.Disconnect(r.Context()); err != nil {
		s.writeCodedError(w, err)
		return
	}
	session.WriteCookie(w, false)
	writeJSON(w, http.StatusOK, viewOf(s.wallet.State()))
}

type switchRequest struct {
	ChainID json.RawMessage `json:"chainId"`
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeCodedError(w, err)
		return
	}
	id, err := parseChainID(req.ChainID)
	if err != nil {
		s.writeCodedError(w, err)
		return
	}
	outcome, err := s.wallet.SwitchChain(r.Context(), id)
	if err != nil {
		s.writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome, "chainId": id})
}

// parseChainID 同时接受十进制数字与 0x 前缀的十六进制字符串。
func parseChainID(raw json.RawMessage) (uint64, error) {
	if len(raw) == 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "缺少 chainId")
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "chainId 格式错误")
	}
	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		id, err := chains.ParseID(str)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "chainId 格式错误")
		}
		return id, nil
	}
	id, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "chainId 格式错误")
	}
	return id, nil
}

func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	timer := time.NewTimer(s.navigationWait)
	defer timer.Stop()
	select {
	case nav := <-s.wallet.Navigations():
		writeJSON(w, http.StatusOK, nav)
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleChains(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"defaultChainId": s.chains.DefaultID(),
		"chains":         s.chains.All(),
	})
}

func (s *Server) handleBlockchain(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, http.StatusServiceUnavailable, "REGISTRY_UNAVAILABLE", "未配置审计登记合约")
		return
	}
	var req registry.Request
	if err := decodeBody(w, r, &req); err != nil {
		s.writeCodedError(w, err)
		return
	}
	result, err := registry.Dispatch(r.Context(), s.registry, req)
	if err != nil {
		s.writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

type auditRequest struct {
	Source string `json:"source"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audits == nil {
		writeError(w, http.StatusServiceUnavailable, "AUDIT_UNAVAILABLE", "未配置审计服务")
		return
	}
	var req auditRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeCodedError(w, err)
		return
	}
	// 审计人始终取当前已连接的钱包地址，不接受客户端传入。
	report, err := s.audits.Submit(r.Context(), s.wallet.State().Address, req.Source)
	if err != nil {
		s.writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if s.audits == nil {
		writeError(w, http.StatusServiceUnavailable, "AUDIT_UNAVAILABLE", "未配置审计服务")
		return
	}
	query := r.URL.Query()
	var (
		reports []audit.Report
		err     error
	)
	if hash := query.Get("hash"); hash != "" {
		reports, err = s.audits.ByContractHash(r.Context(), hash)
	} else {
		limit := 0
		if raw := query.Get("limit"); raw != "" {
			if parsed, perr := strconv.Atoi(raw); perr == nil && parsed > 0 {
				limit = parsed
			}
		}
		reports, err = s.audits.Latest(r.Context(), limit)
	}
	if err != nil {
		s.writeCodedError(w, err)
		return
	}
	if reports == nil {
		reports = []audit.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

type registerResponse struct {
	ReportID     string `json:"reportId"`
	ContractHash string `json:"contractHash"`
	Stars        int    `json:"stars"`
	ReportURI    string `json:"reportUri"`
	TxHash       string `json:"txHash"`
}

// handleRegister 把报告登记到链上。只有报告的审计人可以登记，且钱包须位于默认网络，
// 登记合约只部署在该网络上。
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.registrar == nil || s.audits == nil {
		writeError(w, http.StatusServiceUnavailable, "REGISTRY_UNAVAILABLE", "未配置审计登记合约")
		return
	}
	st := s.wallet.State()
	if !st.Connected() {
		s.writeCodedError(w, xerrors.New(xerrors.CodeNotConnected, "请先连接钱包"))
		return
	}
	report, err := s.audits.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeCodedError(w, err)
		return
	}
	if !strings.EqualFold(report.Auditor, st.Address) {
		s.writeCodedError(w, xerrors.New(registry.CodeNotAuditor, "", xerrors.WithMetadata("report_id", report.ID)))
		return
	}
	defaultID := s.chains.DefaultID()
	if st.ChainID == nil || *st.ChainID != defaultID {
		s.writeCodedError(w, xerrors.New(xerrors.CodeUnsupportedChain, "请切换到默认网络后再登记",
			xerrors.WithMetadata("chain_id", chains.EncodeID(defaultID))))
		return
	}

	uri := registry.ReportURI(s.reportBaseURI, report.ID)
	tx, err := s.registrar.Register(r.Context(), registry.Registration{
		ContractHash: common.HexToHash(report.ContractHash),
		Stars:        report.Stars,
		ReportURI:    uri,
	})
	if err != nil {
		s.writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{
		ReportID:     report.ID,
		ContractHash: report.ContractHash,
		Stars:        report.Stars,
		ReportURI:    uri,
		TxHash:       tx.Hex(),
	})
}

type testcaseRequest struct {
	Source    string `json:"source"`
	Framework string `json:"framework"`
}

func (s *Server) handleTestcases(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		writeError(w, http.StatusServiceUnavailable, "GENERATOR_UNAVAILABLE", "未配置生成服务")
		return
	}
	var req testcaseRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeCodedError(w, err)
		return
	}
	framework, err := analysis.ParseFramework(req.Framework)
	if err != nil {
		s.writeCodedError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "",
			xerrors.WithMetadata("framework", req.Framework)))
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		s.writeCodedError(w, xerrors.New(xerrors.CodeInvalidArgument, "请输入合约源码"))
		return
	}
	tests, err := s.generator.GenerateTests(r.Context(), req.Source, framework)
	if err != nil {
		s.writeCodedError(w, xerrors.Wrap(analysis.CodeGenerationFailed, err, ""))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"framework": framework, "tests": tests})
}

func (s *Server) handleGenerateContract(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		writeError(w, http.StatusServiceUnavailable, "GENERATOR_UNAVAILABLE", "未配置生成服务")
		return
	}
	var req analysis.ContractRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeCodedError(w, err)
		return
	}
	if strings.TrimSpace(req.Template) == "" {
		s.writeCodedError(w, xerrors.New(xerrors.CodeInvalidArgument, "请选择合约模板"))
		return
	}
	out, err := s.generator.GenerateContract(r.Context(), req)
	if err != nil {
		s.writeCodedError(w, xerrors.Wrap(analysis.CodeGenerationFailed, err, ""))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}
	name, ok := pageName(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.URL.Path == s.guard.ConnectPath() {
		if target := routeguard.PendingRedirect(r); target != "" {
			s.wallet.SetPendingRedirect(target)
		}
	}
	renderPage(w, pageData{
		Title:     name,
		Path:      r.URL.Path,
		Connected: routeguard.ConnectedFrom(r.Context()),
		State:     viewOf(s.wallet.State()),
	})
}

func pageName(p string) (string, bool) {
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "home", true
	}
	for _, page := range Pages {
		if page == p {
			return strings.TrimPrefix(page, "/"), true
		}
	}
	return "", false
}

// statusOf 将错误码映射为 HTTP 状态码。
func statusOf(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, audit.CodeValidationFailed:
		return http.StatusBadRequest
	case xerrors.CodeNotConnected:
		return http.StatusUnauthorized
	case registry.CodeNotAuditor:
		return http.StatusForbidden
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeUserRejected, xerrors.CodeChainSwitchRejected:
		return http.StatusConflict
	case xerrors.CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	case xerrors.CodeUnsupportedChain:
		return http.StatusUnprocessableEntity
	case audit.CodeCooldown:
		return http.StatusTooManyRequests
	case analysis.CodeGenerationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) writeCodedError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusOf(code)
	body := errorBody{Code: string(code), Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		body.Message = e.Message()
		body.Metadata = e.Metadata()
		if retry := body.Metadata["retry_after"]; retry != "" && status == http.StatusTooManyRequests {
			if d, perr := time.ParseDuration(retry); perr == nil {
				w.Header().Set("Retry-After", strconv.Itoa(int(d.Round(time.Second).Seconds())))
			}
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", "code", string(code), "error", err)
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
