package auditfi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Navigation long polls need a timeout above the server's wait window.
const DefaultHTTPTimeout = 40 * time.Second

// Client wraps the AuditFi daemon HTTP API. It keeps a cookie jar so the
// wallet-connected cookie set by Connect is sent on later page requests.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Chain mirrors a chain registry entry.
type Chain struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	RPCURL      string `json:"rpcUrl"`
	ExplorerURL string `json:"explorerUrl"`
	Currency    string `json:"currency"`
	Testnet     bool   `json:"testnet"`
}

// WalletState is the daemon's connection state projection.
type WalletState struct {
	Phase            string  `json:"phase"`
	Connected        bool    `json:"connected"`
	Address          string  `json:"address,omitempty"`
	FormattedAddress string  `json:"formattedAddress,omitempty"`
	ChainID          *uint64 `json:"chainId,omitempty"`
	ChainHex         string  `json:"chainHex,omitempty"`
	Chain            *Chain  `json:"chain,omitempty"`
	Supported        bool    `json:"supported"`
	Balance          string  `json:"balance,omitempty"`
}

// Navigation is a page change requested by the wallet controller.
type Navigation struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// SwitchResult reports how a chain switch resolved.
type SwitchResult struct {
	Outcome string `json:"outcome"`
	ChainID uint64 `json:"chainId"`
}

// ChainList is the registry listing with its default chain.
type ChainList struct {
	DefaultChainID uint64  `json:"defaultChainId"`
	Chains         []Chain `json:"chains"`
}

// Vulnerabilities groups findings by severity.
type Vulnerabilities struct {
	Critical []string `json:"critical"`
	High     []string `json:"high"`
	Medium   []string `json:"medium"`
	Low      []string `json:"low"`
}

// Report is a stored audit report.
type Report struct {
	ID               string          `json:"id"`
	ContractHash     string          `json:"contractHash"`
	Auditor          string          `json:"auditor"`
	Stars            int             `json:"stars"`
	Summary          string          `json:"summary"`
	Vulnerabilities  Vulnerabilities `json:"vulnerabilities"`
	Recommendations  []string        `json:"recommendations"`
	GasOptimizations []string        `json:"gasOptimizations"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// APIError represents a coded error returned by the daemon.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("auditfi api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("auditfi api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the daemon at rawURL. When httpClient is
// nil a default client with a cookie jar is used; a caller supplied client
// without a jar gets one attached.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		clone := *httpClient
		clone.Jar = jar
		httpClient = &clone
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// State fetches the connection state.
func (c *Client) State(ctx context.Context) (WalletState, error) {
	var st WalletState
	err := c.do(ctx, http.MethodGet, "/api/wallet/state", nil, nil, &st)
	return st, err
}

// Connect asks the daemon to prompt the wallet for accounts.
func (c *Client) Connect(ctx context.Context) (WalletState, error) {
	var st WalletState
	err := c.do(ctx, http.MethodPost, "/api/wallet/connect", nil, nil, &st)
	return st, err
}

// Disconnect forgets the connected account.
func (c *Client) Disconnect(ctx context.Context) (WalletState, error) {
	var st WalletState
	err := c.do(ctx, http.MethodPost, "/api/wallet/disconnect", nil, nil, &st)
	return st, err
}

// SwitchChain requests a move to chainID.
func (c *Client) SwitchChain(ctx context.Context, chainID uint64) (SwitchResult, error) {
	var res SwitchResult
	err := c.do(ctx, http.MethodPost, "/api/wallet/switch", nil, map[string]uint64{"chainId": chainID}, &res)
	return res, err
}

// NextNavigation long-polls for the next navigation intent. It returns nil
// when the server wait window elapsed without one.
func (c *Client) NextNavigation(ctx context.Context) (*Navigation, error) {
	var nav Navigation
	found, err := c.doOptional(ctx, http.MethodGet, "/api/wallet/navigation", nil, nil, &nav)
	if err != nil || !found {
		return nil, err
	}
	return &nav, nil
}

// Chains lists the supported networks.
func (c *Client) Chains(ctx context.Context) (ChainList, error) {
	var list ChainList
	err := c.do(ctx, http.MethodGet, "/api/chains", nil, nil, &list)
	return list, err
}

// SubmitAudit analyses source on behalf of the connected wallet.
func (c *Client) SubmitAudit(ctx context.Context, source string) (Report, error) {
	var report Report
	err := c.do(ctx, http.MethodPost, "/api/audit", nil, map[string]string{"source": source}, &report)
	return report, err
}

// LatestReports lists at most limit reports, newest first. limit <= 0 uses the
// server default.
func (c *Client) LatestReports(ctx context.Context, limit int) ([]Report, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var reports []Report
	err := c.do(ctx, http.MethodGet, "/api/reports", q, nil, &reports)
	return reports, err
}

// ReportsByHash lists reports stored for a contract hash.
func (c *Client) ReportsByHash(ctx context.Context, hash string) ([]Report, error) {
	var reports []Report
	err := c.do(ctx, http.MethodGet, "/api/reports", url.Values{"hash": []string{hash}}, nil, &reports)
	return reports, err
}

// Registration is the result of submitting a report to the on-chain registry.
type Registration struct {
	ReportID     string `json:"reportId"`
	ContractHash string `json:"contractHash"`
	Stars        int    `json:"stars"`
	ReportURI    string `json:"reportUri"`
	TxHash       string `json:"txHash"`
}

// GeneratedTests holds generated test code for one framework.
type GeneratedTests struct {
	Framework string `json:"framework"`
	Tests     string `json:"tests"`
}

// ContractRequest describes a generated contract.
type ContractRequest struct {
	Template string            `json:"template"`
	BaseCode string            `json:"baseCode,omitempty"`
	Features string            `json:"features,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// GeneratedContract is generated Solidity source with notes.
type GeneratedContract struct {
	Code          string   `json:"code"`
	Features      []string `json:"features"`
	SecurityNotes []string `json:"securityNotes"`
}

// RegisterAudit asks the daemon to record a stored report on chain. The
// connected wallet signs the transaction.
func (c *Client) RegisterAudit(ctx context.Context, reportID string) (Registration, error) {
	var out Registration
	err := c.do(ctx, http.MethodPost, "/api/audit/"+reportID+"/register", nil, nil, &out)
	return out, err
}

// GenerateTests generates tests for source. An empty framework means hardhat.
func (c *Client) GenerateTests(ctx context.Context, source, framework string) (GeneratedTests, error) {
	var out GeneratedTests
	body := map[string]string{"source": source, "framework": framework}
	err := c.do(ctx, http.MethodPost, "/api/testcases", nil, body, &out)
	return out, err
}

// GenerateContract generates contract source from a template.
func (c *Client) GenerateContract(ctx context.Context, req ContractRequest) (GeneratedContract, error) {
	var out GeneratedContract
	err := c.do(ctx, http.MethodPost, "/api/contracts/generate", nil, req, &out)
	return out, err
}

// QueryRegistry calls the on-chain registry proxy and decodes the result
// into out.
func (c *Client) QueryRegistry(ctx context.Context, method string, out any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	body := map[string]any{"method": method, "params": params}
	if err := c.do(ctx, http.MethodPost, "/api/blockchain", nil, body, &envelope); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	_, err := c.doOptional(ctx, method, endpoint, query, payload, out)
	return err
}

// doOptional reports found=false on 204 No Content.
func (c *Client) doOptional(ctx context.Context, method, endpoint string, query url.Values, payload, out any) (bool, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return false, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, decodeError(resp)
	}
	if out == nil {
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return true, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	var envelope struct {
		Error *APIError `json:"error"`
	}
	envelope.Error = apiErr
	if len(data) > 0 {
		_ = json.Unmarshal(data, &envelope)
	}
	apiErr.StatusCode = resp.StatusCode
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}
