//go:build unix

package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"difffuzz/internal/outcome"
)

func script(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestGeneratorWritesArtifactFromSeed(t *testing.T) {
	// $1 is -o, $2 the output path, the rest are feature flags
	gen := &Generator{
		Command: []string{script(t, `out="$2"; shift 2; cat > "$out"; printf "|%s" "$@" >> "$out"`)},
		Flags:   []string{"--a", "--b=1"},
	}
	out := filepath.Join(t.TempDir(), "t0.wasm")
	if err := gen.Generate(context.Background(), []byte("seed"), out); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "seed|--a|--b=1" {
		t.Fatalf("artifact = %q", data)
	}
}

func TestGeneratorFailureCarriesStderr(t *testing.T) {
	gen := &Generator{Command: []string{script(t, `echo "bad flag" >&2; exit 2`)}}
	err := gen.Generate(context.Background(), nil, filepath.Join(t.TempDir(), "out"))
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("err = %v, want *ToolError", err)
	}
	if toolErr.ExitCode != 2 || !strings.Contains(toolErr.Error(), "bad flag") {
		t.Fatalf("unexpected tool error: %v", toolErr)
	}
}

func TestGeneratorEmptyCommand(t *testing.T) {
	gen := &Generator{}
	if err := gen.Generate(context.Background(), nil, "out"); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestTargetClassification(t *testing.T) {
	cases := []struct {
		body string
		want outcome.Kind
	}{
		{`test -f "$1"`, outcome.Pass},
		{`exit 3`, outcome.Crash},
		{`sleep 30`, outcome.Timeout},
	}
	artifact := filepath.Join(t.TempDir(), "in.wasm")
	if err := os.WriteFile(artifact, []byte{0}, 0o644); err != nil {
		t.Fatal(err)
	}
	for _, tc := range cases {
		target := &Target{Path: script(t, tc.body), Timeout: 300 * time.Millisecond}
		got, err := target.Run(context.Background(), artifact)
		if err != nil {
			t.Fatalf("%q: Run: %v", tc.body, err)
		}
		if got != tc.want {
			t.Fatalf("%q: kind = %v, want %v", tc.body, got, tc.want)
		}
	}
}

func TestShrinkerArgumentsAndPredicateEnv(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.wasm")
	out := filepath.Join(dir, "out.wasm")
	if err := os.WriteFile(input, []byte("long input"), 0o644); err != nil {
		t.Fatal(err)
	}
	sh := &Shrinker{
		Command: []string{script(t, `test "$SHRINKING" = 1 || exit 9; test "$1" = /bin/target || exit 8; head -c 4 "$2" > "$4"`)},
		Target:  "/bin/target",
	}
	if err := sh.Shrink(context.Background(), input, out); err != nil {
		t.Fatalf("Shrink: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read shrunk: %v", err)
	}
	if string(data) != "long" {
		t.Fatalf("shrunk = %q, want %q", data, "long")
	}
}

func TestShrinkerFailure(t *testing.T) {
	sh := &Shrinker{Command: []string{script(t, "exit 1")}, Target: "x"}
	var toolErr *ToolError
	if err := sh.Shrink(context.Background(), "in", "out"); !errors.As(err, &toolErr) {
		t.Fatalf("err = %v, want *ToolError", err)
	}
}
