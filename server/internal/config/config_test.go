package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadMergesBaseFileAndConfD(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "fleetd.conf")
	confDir := filepath.Join(dir, "fleetd.conf.d")
	if err := os.Mkdir(confDir, 0o755); err != nil {
		t.Fatal(err)
	}

	writeFile(t, base, "NodeName = base-node\nLogLevel=info\n")
	writeFile(t, filepath.Join(confDir, "10-override.conf"), "LogLevel = debug\n")
	writeFile(t, filepath.Join(confDir, "20-extra.conf"), "# comment\nControllerHost=10.0.0.1\n")

	values, err := Load(base, confDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if values["NodeName"] != "base-node" {
		t.Errorf("NodeName = %q, want base-node", values["NodeName"])
	}
	if values["LogLevel"] != "debug" {
		t.Errorf("LogLevel = %q, want debug (conf.d should override base)", values["LogLevel"])
	}
	if values["ControllerHost"] != "10.0.0.1" {
		t.Errorf("ControllerHost = %q, want 10.0.0.1", values["ControllerHost"])
	}
}

func TestLoadToleratesMissingPaths(t *testing.T) {
	dir := t.TempDir()
	values, err := Load(filepath.Join(dir, "missing.conf"), filepath.Join(dir, "missing.d"))
	if err != nil {
		t.Fatalf("Load with missing paths should not error, got %v", err)
	}
	if len(values) != 0 {
		t.Errorf("expected empty Values, got %+v", values)
	}
}

func TestConfDFilesAreAppliedInLexicalOrder(t *testing.T) {
	dir := t.TempDir()
	confDir := filepath.Join(dir, "conf.d")
	if err := os.Mkdir(confDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(confDir, "01-a.conf"), "Key=first\n")
	writeFile(t, filepath.Join(confDir, "02-b.conf"), "Key=second\n")

	values, err := Load(filepath.Join(dir, "nonexistent.conf"), confDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if values["Key"] != "second" {
		t.Errorf("Key = %q, want second (lexically-later file should win)", values["Key"])
	}
}

func TestResolvePrecedence(t *testing.T) {
	values := Values{"NodeName": "from-file"}

	if got := Resolve(values, "NodeName", "FLEETD_CONFIG_TEST_NODE_NAME", "default-name"); got != "from-file" {
		t.Errorf("Resolve = %q, want from-file (file should beat default)", got)
	}

	t.Setenv("FLEETD_CONFIG_TEST_NODE_NAME", "from-env")
	if got := Resolve(values, "NodeName", "FLEETD_CONFIG_TEST_NODE_NAME", "default-name"); got != "from-env" {
		t.Errorf("Resolve = %q, want from-env (env should beat file)", got)
	}

	if got := Resolve(Values{}, "Missing", "FLEETD_CONFIG_TEST_UNSET", "default-name"); got != "default-name" {
		t.Errorf("Resolve = %q, want default-name when neither file nor env set it", got)
	}
}
