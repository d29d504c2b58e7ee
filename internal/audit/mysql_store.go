package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"AuditFi/internal/audit/migrations"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// MySQLStore 使用 MySQL 的 audit_reports 表保存报告。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 建立连接池并执行迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &MySQLStore{db: db}
	if err := store.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func openDatabase(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	db.SetMaxOpenConns(positiveOr(cfg.MaxOpenConns, 20))
	db.SetMaxIdleConns(positiveOr(cfg.MaxIdleConns, 10))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	return db, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

const reportColumns = `id, contract_hash, auditor, stars, summary, vulnerabilities, recommendations, gas_optimizations, created_at`

// Save 写入一份报告。
func (s *MySQLStore) Save(ctx context.Context, report Report) error {
	vulns, err := json.Marshal(report.Vulnerabilities)
	if err != nil {
		return fmt.Errorf("序列化 vulnerabilities 失败: %w", err)
	}
	recs, err := json.Marshal(nonNil(report.Recommendations))
	if err != nil {
		return fmt.Errorf("序列化 recommendations 失败: %w", err)
	}
	gas, err := json.Marshal(nonNil(report.GasOptimizations))
	if err != nil {
		return fmt.Errorf("序列化 gas_optimizations 失败: %w", err)
	}

	const stmt = `INSERT INTO audit_reports
    (` + reportColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		report.ID,
		report.ContractHash,
		report.Auditor,
		report.Stars,
		report.Summary,
		string(vulns),
		string(recs),
		string(gas),
		report.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("写入审计报告失败: %w", err)
	}
	return nil
}

// Latest 查询最近的报告。
func (s *MySQLStore) Latest(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.query(ctx, `SELECT `+reportColumns+`
    FROM audit_reports ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

// ByContractHash 查询指定合约的报告。
func (s *MySQLStore) ByContractHash(ctx context.Context, hash string) ([]Report, error) {
	return s.query(ctx, `SELECT `+reportColumns+`
    FROM audit_reports WHERE contract_hash = ? ORDER BY created_at DESC`, hash)
}

// Get 按 ID 查询报告。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Report, error) {
	reports, err := s.query(ctx, `SELECT `+reportColumns+`
    FROM audit_reports WHERE id = ? LIMIT 1`, id)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, ErrReportNotFound
	}
	return &reports[0], nil
}

func (s *MySQLStore) query(ctx context.Context, stmt string, args ...any) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("查询审计报告失败: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var (
			report           Report
			vulns, recs, gas string
			createdAt        int64
		)
		if err := rows.Scan(&report.ID, &report.ContractHash, &report.Auditor, &report.Stars, &report.Summary, &vulns, &recs, &gas, &createdAt); err != nil {
			return nil, fmt.Errorf("解析审计报告失败: %w", err)
		}
		if err := json.Unmarshal([]byte(vulns), &report.Vulnerabilities); err != nil {
			return nil, fmt.Errorf("解析 vulnerabilities 失败: %w", err)
		}
		if err := json.Unmarshal([]byte(recs), &report.Recommendations); err != nil {
			return nil, fmt.Errorf("解析 recommendations 失败: %w", err)
		}
		if err := json.Unmarshal([]byte(gas), &report.GasOptimizations); err != nil {
			return nil, fmt.Errorf("解析 gas_optimizations 失败: %w", err)
		}
		report.CreatedAt = time.UnixMilli(createdAt).UTC()
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历审计报告失败: %w", err)
	}
	return reports, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type migrationFile struct {
	version    string
	name       string
	statements []string
}

func (s *MySQLStore) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`); err != nil {
		return fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}

	applied, err := s.loadAppliedVersions(ctx)
	if err != nil {
		return err
	}
	files, err := loadMigrationFiles(migrations.Files)
	if err != nil {
		return err
	}
	for _, m := range files {
		if _, ok := applied[m.version]; ok {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLStore) loadAppliedVersions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("解析 schema_migrations 失败: %w", err)
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 schema_migrations 失败: %w", err)
	}
	return applied, nil
}

func (s *MySQLStore) applyMigration(ctx context.Context, m migrationFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("执行迁移 %s 失败: %w", m.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, m.version, time.Now().Unix()); err != nil {
		tx.Rollback()
		return fmt.Errorf("记录迁移版本失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移事务失败: %w", err)
	}
	return nil
}

func loadMigrationFiles(fsys fs.ReadFileFS) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}

	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := fsys.ReadFile(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", entry.Name(), err)
		}
		statements := splitSQLStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		files = append(files, migrationFile{
			version:    migrationVersion(entry.Name()),
			name:       entry.Name(),
			statements: statements,
		})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].version == files[j].version {
			return files[i].name < files[j].name
		}
		return files[i].version < files[j].version
	})
	return files, nil
}

func splitSQLStatements(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func migrationVersion(name string) string {
	if idx := strings.IndexRune(name, '_'); idx > 0 {
		return name[:idx]
	}
	if dot := strings.IndexRune(name, '.'); dot > 0 {
		return name[:dot]
	}
	return name
}

var _ Store = (*MySQLStore)(nil)
