// Package analysis 定义外部合约分析服务的请求、返回结构以及星级约束。
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// MaxStars 是评分上限。
const MaxStars = 5

// Vulnerabilities 按严重程度归类的问题列表。
type Vulnerabilities struct {
	Critical []string `json:"critical"`
	High     []string `json:"high"`
	Medium   []string `json:"medium"`
	Low      []string `json:"low"`
}

// Result 是一次合约分析的结构化结果。
type Result struct {
	Stars            int             `json:"stars"`
	Summary          string          `json:"summary"`
	Vulnerabilities  Vulnerabilities `json:"vulnerabilities"`
	Recommendations  []string        `json:"recommendations"`
	GasOptimizations []string        `json:"gasOptimizations"`
}

// Provider 分析一段 Solidity 源码。
type Provider interface {
	Analyze(ctx context.Context, source string) (*Result, error)
}

// ClampStars 根据问题数量限制评分：存在 critical 最多 2 星，存在 high 最多
// 3 星，critical 超过 2 个直接 0 星。
func ClampStars(r *Result) {
	if r == nil {
		return
	}
	if len(r.Vulnerabilities.Critical) > 0 {
		r.Stars = min(r.Stars, 2)
	}
	if len(r.Vulnerabilities.High) > 0 {
		r.Stars = min(r.Stars, 3)
	}
	if len(r.Vulnerabilities.Critical) > 2 {
		r.Stars = 0
	}
}

// Decode 解析并校验模型返回的 JSON 内容，缺省的列表补为空，然后应用星级约束。
func Decode(content string) (*Result, error) {
	content = strings.TrimSpace(stripFence(content))
	var raw struct {
		Stars           *float64 `json:"stars"`
		Summary         *string  `json:"summary"`
		Vulnerabilities *struct {
			Critical []string `json:"critical"`
			High     []string `json:"high"`
			Medium   []string `json:"medium"`
			Low      []string `json:"low"`
		} `json:"vulnerabilities"`
		Recommendations  []string `json:"recommendations"`
		GasOptimizations []string `json:"gasOptimizations"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("解析分析结果失败: %w", err)
	}
	if raw.Stars == nil {
		return nil, fmt.Errorf("分析结果缺少 stars 字段")
	}
	if *raw.Stars < 0 || *raw.Stars > MaxStars || math.IsNaN(*raw.Stars) {
		return nil, fmt.Errorf("stars 超出范围: %v", *raw.Stars)
	}
	if raw.Summary == nil {
		return nil, fmt.Errorf("分析结果缺少 summary 字段")
	}
	if raw.Vulnerabilities == nil {
		return nil, fmt.Errorf("分析结果缺少 vulnerabilities 字段")
	}

	res := &Result{
		Stars:   int(math.Floor(*raw.Stars)),
		Summary: strings.TrimSpace(*raw.Summary),
		Vulnerabilities: Vulnerabilities{
			Critical: orEmpty(raw.Vulnerabilities.Critical),
			High:     orEmpty(raw.Vulnerabilities.High),
			Medium:   orEmpty(raw.Vulnerabilities.Medium),
			Low:      orEmpty(raw.Vulnerabilities.Low),
		},
		Recommendations:  orEmpty(raw.Recommendations),
		GasOptimizations: orEmpty(raw.GasOptimizations),
	}
	ClampStars(res)
	return res, nil
}

func orEmpty(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

// stripFence 去掉模型输出中的 markdown 代码块标记，保留块内内容。
func stripFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.Contains(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") && isFenceTag(trimmed[3:]) {
			continue
		}
		kept = append(kept, line)
	}
	out := strings.TrimSpace(strings.Join(kept, "\n"))
	// 单行形式，例如 ```json{...}```。
	if strings.HasPrefix(out, "```") {
		out = strings.TrimPrefix(out, "```")
		out = strings.TrimPrefix(out, "json")
		out = strings.TrimSuffix(out, "```")
	}
	return strings.TrimSpace(out)
}

func isFenceTag(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '+', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
