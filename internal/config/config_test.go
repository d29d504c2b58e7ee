package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "auditfi.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dir := filepath.Dir(path)

	if cfg.Server.Address != ":8080" || cfg.Server.ShutdownTimeout().Seconds() != 10 {
		t.Fatalf("unexpected server defaults %+v", cfg.Server)
	}
	if cfg.Server.NavigationWait().Seconds() != 25 {
		t.Fatalf("unexpected navigation wait %v", cfg.Server.NavigationWait())
	}
	if cfg.Wallet.DefaultChainID != 1043 || cfg.Wallet.ConnectPath != "/wallet" {
		t.Fatalf("unexpected wallet defaults %+v", cfg.Wallet)
	}
	if cfg.Wallet.PollInterval().Milliseconds() != 2000 {
		t.Fatalf("unexpected poll interval %v", cfg.Wallet.PollInterval())
	}
	if cfg.Session.Driver != "memory" || cfg.Events.Driver != "log" || cfg.Storage.Driver != "memory" {
		t.Fatalf("unexpected drivers %s/%s/%s", cfg.Session.Driver, cfg.Events.Driver, cfg.Storage.Driver)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected data dir %s", cfg.Runtime.DataDir)
	}
	if cfg.Analysis.APIKeyEnv != "MISTRAL_API_KEY" || cfg.Analysis.Timeout() != 0 {
		t.Fatalf("unexpected analysis defaults %+v", cfg.Analysis)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults %+v", cfg.Logging)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
		"wallet": {"chains_file": "chains.yaml"},
		"logging": {"audit": {"enabled": true}},
		"runtime": {"data_dir": "state"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dir := filepath.Dir(path)
	if cfg.Wallet.ChainsFile != filepath.Join(dir, "chains.yaml") {
		t.Fatalf("unexpected chains file %s", cfg.Wallet.ChainsFile)
	}
	if cfg.Logging.Audit.Path != filepath.Join(dir, "data", "audit", "wallet.log") {
		t.Fatalf("unexpected audit path %s", cfg.Logging.Audit.Path)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "state") {
		t.Fatalf("unexpected data dir %s", cfg.Runtime.DataDir)
	}
}

func TestLoadResolvesSecretsFromEnv(t *testing.T) {
	t.Setenv("TEST_AUDITFI_DSN", " user:pw@tcp(db:3306)/auditfi ")
	t.Setenv("TEST_AUDITFI_KEY", "sk-test")
	path := writeConfig(t, `{
		"storage": {"driver": "mysql", "dsn_env": "TEST_AUDITFI_DSN"},
		"analysis": {"api_key_env": "TEST_AUDITFI_KEY"},
		"events": {"driver": "rabbitmq", "rabbitmq": {"url": "amqp://direct"}}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.DSN != "user:pw@tcp(db:3306)/auditfi" {
		t.Fatalf("unexpected dsn %q", cfg.Storage.DSN)
	}
	if cfg.Analysis.APIKey != "sk-test" {
		t.Fatalf("unexpected api key %q", cfg.Analysis.APIKey)
	}
	if cfg.Events.RabbitMQ.URL != "amqp://direct" {
		t.Fatalf("explicit value must win, got %q", cfg.Events.RabbitMQ.URL)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"session": `{"session": {"driver": "etcd"}}`,
		"events":  `{"events": {"driver": "kafka"}}`,
		"storage": `{"storage": {"driver": "postgres"}}`,
		"connect": `{"wallet": {"connect_path": "wallet"}}`,
		"syntax":  `{`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := Load(""); err == nil {
		t.Fatal("empty path must fail")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil || !strings.Contains(err.Error(), "打开配置文件失败") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvPath, "")
	if PathFromEnv() != DefaultPath {
		t.Fatalf("unexpected default %s", PathFromEnv())
	}
	t.Setenv(EnvPath, "/etc/auditfi.json")
	if PathFromEnv() != "/etc/auditfi.json" {
		t.Fatalf("unexpected override %s", PathFromEnv())
	}
}

func TestLoadTrimsReportBaseURL(t *testing.T) {
	path := writeConfig(t, `{"registry": {"contract_address": "0x00000000000000000000000000000000000a0d17", "report_base_url": " https://auditfi.example/reports/ "}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Registry.ReportBaseURL != "https://auditfi.example/reports" {
		t.Fatalf("unexpected report base url %q", cfg.Registry.ReportBaseURL)
	}
}
