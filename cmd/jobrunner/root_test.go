package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("debug", "json"); err != nil {
		t.Fatalf("json logger: %v", err)
	}
	if _, err := newLogger("warn", ""); err != nil {
		t.Fatalf("text logger: %v", err)
	}
	if _, err := newLogger("loud", "text"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := newLogger("info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.yaml")
	content := "channels: root:4,root.mail:1\ndatabases: odoo,crm\nselect_timeout: 5s\nlog_format: json\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	a := &app{configFile: path}
	if err := a.load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if a.cfg.Channels != "root:4,root.mail:1" {
		t.Errorf("Channels = %q", a.cfg.Channels)
	}
	if len(a.cfg.Databases) != 2 || a.cfg.Databases[1] != "crm" {
		t.Errorf("Databases = %v", a.cfg.Databases)
	}
	if a.cfg.SelectTimeout != 5*time.Second {
		t.Errorf("SelectTimeout = %v", a.cfg.SelectTimeout)
	}
	if a.logger == nil {
		t.Error("logger not set")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	a := &app{configFile: filepath.Join(t.TempDir(), "missing.yaml")}
	if err := a.load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "serve", "migrate", "vacuum", "requeue", "cancel", "set-done"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %s not found: %v", name, err)
		}
	}
}
