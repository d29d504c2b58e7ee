package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://api.mistral.ai/v1"
	defaultModelName = "mistral-large-latest"
	defaultTimeout   = 90 * time.Second
	maxTokens        = 2048
	maxGenTokens     = 4096
)

// Config 描述 OpenAI 兼容的 Chat Completions 接口。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用托管大模型完成合约分析。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建分析客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供分析服务 API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Analyze 提交源码并返回经过校验与星级约束的结果。
func (c *Client) Analyze(ctx context.Context, source string) (*Result, error) {
	content, err := c.complete(ctx, completion{
		messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: source},
		},
		jsonMode:  true,
		maxTokens: maxTokens,
	})
	if err != nil {
		return nil, err
	}
	return Decode(content)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completion struct {
	messages  []message
	jsonMode  bool
	maxTokens int
}

// complete 调用 Chat Completions 接口并返回第一条回复的内容。
func (c *Client) complete(ctx context.Context, req completion) (string, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("构建分析请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("请求分析服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("分析服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析分析服务响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("分析服务响应中没有有效的 choices")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("分析服务响应内容为空")
	}
	return content, nil
}

func (c *Client) buildPayload(req completion) ([]byte, error) {
	body := map[string]any{
		"model":       c.model,
		"messages":    req.messages,
		"temperature": 0.1,
		"max_tokens":  req.maxTokens,
	}
	if req.jsonMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化分析请求失败: %w", err)
	}
	return encoded, nil
}

const systemPrompt = "" +
	"You audit Solidity smart contracts for security issues. " +
	"Rate the contract from 0 to 5 stars, where 5 means no vulnerabilities at all. " +
	"Respond with one JSON object: {\"stars\": number, \"summary\": string, " +
	"\"vulnerabilities\": {\"critical\": [string], \"high\": [string], \"medium\": [string], \"low\": [string]}, " +
	"\"recommendations\": [string], \"gasOptimizations\": [string]}."

var _ Provider = (*Client)(nil)
