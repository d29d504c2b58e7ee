package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const memoryCapacity = 512

// MemoryStore 在内存中保存报告；指定数据目录时同时追加写入 JSON 行文件，
// 重启后可恢复。
type MemoryStore struct {
	mu       sync.RWMutex
	dataFile string
	reports  []Report
}

// NewMemoryStore 创建内存报告存储，dataDir 为空时不落盘。
func NewMemoryStore(dataDir string) (*MemoryStore, error) {
	store := &MemoryStore{}
	if dataDir == "" {
		return store, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	store.dataFile = filepath.Join(dataDir, "audit_reports.jsonl")
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// Save 记录一份报告，最新的排在最前。
func (m *MemoryStore) Save(_ context.Context, report Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dataFile != "" {
		if err := m.appendToDisk(report); err != nil {
			return err
		}
	}
	m.reports = append([]Report{report}, m.reports...)
	if len(m.reports) > memoryCapacity {
		m.reports = m.reports[:memoryCapacity]
	}
	return nil
}

// Latest 返回最近的报告，按时间倒序排列。
func (m *MemoryStore) Latest(_ context.Context, limit int) ([]Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.reports) {
		limit = len(m.reports)
	}
	results := make([]Report, limit)
	copy(results, m.reports[:limit])
	return results, nil
}

// ByContractHash 返回指定合约的报告。
func (m *MemoryStore) ByContractHash(_ context.Context, hash string) ([]Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Report
	for _, r := range m.reports {
		if r.ContractHash == hash {
			results = append(results, r)
		}
	}
	return results, nil
}

// Get 按 ID 查找报告。
func (m *MemoryStore) Get(_ context.Context, id string) (*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.reports {
		if r.ID == id {
			report := r
			return &report, nil
		}
	}
	return nil, ErrReportNotFound
}

func (m *MemoryStore) appendToDisk(report Report) error {
	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开报告文件失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("序列化审计报告失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}
	return nil
}

func (m *MemoryStore) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取报告文件失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var restored []Report
	for scanner.Scan() {
		var report Report
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil {
			continue
		}
		restored = append([]Report{report}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析报告文件失败: %w", err)
	}
	if len(restored) > memoryCapacity {
		restored = restored[:memoryCapacity]
	}
	m.reports = restored
	return nil
}

var _ Store = (*MemoryStore)(nil)
