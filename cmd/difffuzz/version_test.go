package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"difffuzz/internal/version"
)

func TestRenderVersionPretty(t *testing.T) {
	info := version.Info{Version: "1.0.0", GitCommit: "abc", Modified: true}
	var buf bytes.Buffer
	renderVersionPretty(&buf, info, versionOptions{showHash: true, showDate: true})
	out := buf.String()
	for _, want := range []string{"difffuzz 1.0.0", "commit: abc (modified)", "built:  unknown"} {
		if !strings.Contains(out, want) {
			t.Errorf("output misses %q:\n%s", want, out)
		}
	}

	buf.Reset()
	renderVersionPretty(&buf, info, versionOptions{})
	if !strings.Contains(buf.String(), "--full") {
		t.Errorf("hint missing:\n%s", buf.String())
	}
}

func TestRenderVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	err := renderVersionJSON(&buf, version.Info{Version: "1.0.0"}, versionOptions{showHash: true})
	if err != nil {
		t.Fatal(err)
	}
	var payload versionPayload
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v\n%s", err, buf.String())
	}
	if payload.Tool != "difffuzz" || payload.GitCommit != "unknown" || payload.BuildDate != "" {
		t.Fatalf("payload = %+v", payload)
	}
}
