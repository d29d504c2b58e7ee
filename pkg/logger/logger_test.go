package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.log")
	if err := Init(Config{Level: "debug", OutputPaths: []string{path}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Sync() })

	Named("wallet").Debug("hydrated", "chain_id", 1043)
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", content, err)
	}
	if entry["component"] != "wallet" || entry["msg"] != "hydrated" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestAuditLoggerRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	w, err := newRotatingWriter(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.maxSize = 64
	defer w.Close()

	line := strings.Repeat("x", 40) + "\n"
	for i := 0; i < 5; i++ {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	for _, name := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(name); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("expected at most two backups, stat err %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open current: %v", err)
	}
	defer f.Close()
	lines := 0
	for scanner := bufio.NewScanner(f); scanner.Scan(); {
		lines++
	}
	if lines != 1 {
		t.Fatalf("expected current file to hold one line, got %d", lines)
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("WARN").String() != "WARN" || parseLevel("bogus").String() != "INFO" {
		t.Fatal("unexpected level mapping")
	}
}
