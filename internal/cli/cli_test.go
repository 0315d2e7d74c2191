package cli

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
)

func TestNewRootCmd_hasSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	if root == nil {
		t.Fatal("NewRootCmd returned nil")
	}
	cmds := root.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}
	for _, want := range []string{"start", "stop", "status", "farm", "agent", "todo", "apikey", "doctor"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
}

func TestNewRootCmd_versionFlag(t *testing.T) {
	root := NewRootCmd("1.2.3")
	if root.Version != "1.2.3" {
		t.Errorf("Version: got %q", root.Version)
	}
}

func TestNewRootCmd_hasHomeFlag(t *testing.T) {
	root := NewRootCmd("")
	f := root.PersistentFlags().Lookup("home")
	if f == nil {
		t.Fatal("expected --home persistent flag")
	}
}

func TestApikeyGenerate(t *testing.T) {
	root := NewRootCmd("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"apikey", "generate"})
	if err := root.Execute(); err != nil {
		t.Fatalf("apikey generate: %v", err)
	}
	out := buf.String()
	hexKey := regexp.MustCompile(`(?m)^  ([a-f0-9]{64})$`)
	if !hexKey.MatchString(out) {
		t.Errorf("output should contain a 64-char hex key on its own line; got:\n%s", out)
	}
	if !regexp.MustCompile(`FARMCOORD_API_KEY`).MatchString(out) {
		t.Errorf("output should mention FARMCOORD_API_KEY")
	}
	if !regexp.MustCompile(`X-API-Key`).MatchString(out) {
		t.Errorf("output should mention X-API-Key")
	}
}

func TestFarmAndTodoLifecycle(t *testing.T) {
	home := t.TempDir()

	run := func(args ...string) string {
		t.Helper()
		root := NewRootCmd("")
		var buf bytes.Buffer
		root.SetOut(&buf)
		root.SetErr(&buf)
		root.SetArgs(append([]string{"--home", home}, args...))
		if err := root.Execute(); err != nil {
			t.Fatalf("farmcoord %s: %v\n%s", strings.Join(args, " "), err, buf.String())
		}
		return buf.String()
	}

	out := run("farm", "add", "--name", "cli-farm", "--agents", "2")
	if !strings.Contains(out, `Created farm "cli-farm"`) {
		t.Fatalf("farm add output: %s", out)
	}

	out = run("farm", "list")
	if !strings.Contains(out, "cli-farm") || !strings.Contains(out, "agents=2") {
		t.Fatalf("farm list output: %s", out)
	}

	out = run("todo", "add", "--farm", "cli-farm", "--agent", "agent-1", "--title", "rebalance book", "--priority", "high")
	if !strings.Contains(out, `Created todo for "agent-1"`) {
		t.Fatalf("todo add output: %s", out)
	}

	run("todo", "add", "--farm", "cli-farm", "--agent", "agent-2", "--title", "watch funding rate")

	out = run("todo", "list", "--farm", "cli-farm")
	if !strings.Contains(out, "rebalance book") || !strings.Contains(out, "watch funding rate") {
		t.Fatalf("todo list output: %s", out)
	}

	out = run("farm", "progress", "--name", "cli-farm")
	if !strings.Contains(out, "Farm cli-farm") {
		t.Fatalf("farm progress output: %s", out)
	}

	out = run("farm", "rebalance", "--name", "cli-farm")
	if !strings.Contains(out, "nothing moved") {
		t.Fatalf("farm rebalance output: %s", out)
	}

	out = run("todo", "bulk-assign", "--farm", "cli-farm", "--title", "daily pnl check")
	if !strings.Contains(out, "to 2 agent(s)") {
		t.Fatalf("todo bulk-assign output: %s", out)
	}

	out = run("farm", "prioritize", "--name", "cli-farm")
	if !strings.Contains(out, "planned=4") {
		t.Fatalf("farm prioritize output: %s", out)
	}
}

func TestTodoAdd_missingFlags(t *testing.T) {
	root := NewRootCmd("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"--home", t.TempDir(), "todo", "add", "--farm", "f1"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for missing --agent and --title")
	}
}

func TestDoctor_ok(t *testing.T) {
	root := NewRootCmd("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"--home", t.TempDir(), "doctor"})
	if err := root.Execute(); err != nil {
		t.Fatalf("doctor: %v\n%s", err, buf.String())
	}
	if !strings.Contains(buf.String(), "ok") {
		t.Fatalf("doctor output: %s", buf.String())
	}
}
