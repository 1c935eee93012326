package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"off", "error", "cycle", "tool", "CYCLE"} {
		if _, err := ParseLevel(s); err != nil {
			t.Fatalf("ParseLevel(%q): %v", s, err)
		}
	}
	if _, err := ParseLevel("phase"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestLevelScopes(t *testing.T) {
	if LevelCycle.ShouldEmit(ScopeTool) {
		t.Fatal("cycle level must not record tool spans")
	}
	if !LevelCycle.ShouldEmit(ScopeLane) || !LevelTool.ShouldEmit(ScopeTool) {
		t.Fatal("missing scopes")
	}
	if LevelOff.ShouldEmit(ScopeDriver) {
		t.Fatal("off records nothing")
	}
}

func TestStreamTracerText(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelTool, FormatText)
	span := Begin(tr, ScopeLane, "cycle", 0)
	child := Begin(tr, ScopeTool, "execute", span.ID())
	child.WithExtra("exit", "1").End("crash")
	span.End("")

	out := buf.String()
	for _, want := range []string{"→ cycle", "→ execute", "← execute (crash) {exit=1}", "← cycle"} {
		if !strings.Contains(out, want) {
			t.Fatalf("trace output missing %q:\n%s", want, out)
		}
	}
}

func TestStreamTracerNDJSON(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelCycle, FormatNDJSON)
	Point(tr, ScopeDriver, "start", "jobs=4")
	Point(tr, ScopeTool, "ignored", "")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if ev["name"] != "start" || ev["scope"] != "driver" || ev["detail"] != "jobs=4" {
		t.Fatalf("unexpected event %v", ev)
	}
}

func TestRingTracerWrapsAndDumps(t *testing.T) {
	r := NewRingTracer(3, LevelError)
	for _, name := range []string{"a", "b", "c", "d"} {
		Point(r, ScopeLane, name, "")
	}
	snap := r.Snapshot()
	if len(snap) != 3 || snap[0].Name != "b" || snap[2].Name != "d" {
		t.Fatalf("snapshot = %+v", snap)
	}
	var buf bytes.Buffer
	if err := r.Dump(&buf, FormatText); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "• a\n") {
		t.Fatalf("oldest event should be gone:\n%s", buf.String())
	}
}

func TestContextPropagation(t *testing.T) {
	if FromContext(context.Background()) != Nop {
		t.Fatal("expected Nop without tracer")
	}
	r := NewRingTracer(4, LevelCycle)
	ctx := WithSpan(WithTracer(context.Background(), r), 42)
	if FromContext(ctx) != r {
		t.Fatal("tracer not propagated")
	}
	if SpanFromContext(ctx) != 42 {
		t.Fatal("span not propagated")
	}
}

func TestNewOffIsNop(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil || tr.Enabled() {
		t.Fatalf("New(off) = %v, %v", tr, err)
	}
	if span := Begin(tr, ScopeDriver, "x", 0); span.ID() != 0 {
		t.Fatal("inert span must have id 0")
	}
}
