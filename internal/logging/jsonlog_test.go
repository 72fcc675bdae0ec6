package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLoggerWritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "debug")
	l.WithFields(Fields{"job": "a1"}).Info("job_ok")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not json: %v (%s)", err, buf.String())
	}
	if line["msg"] != "job_ok" || line["job"] != "a1" {
		t.Fatalf("unexpected entry: %v", line)
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if got := ParseLevel("nonsense").String(); got != "info" {
		t.Fatalf("expected info, got %s", got)
	}
	if got := ParseLevel("WARN").String(); got != "warning" {
		t.Fatalf("expected warning, got %s", got)
	}
}

func TestSetDefaultIgnoresNil(t *testing.T) {
	before := Default()
	SetDefault(nil)
	if Default() != before {
		t.Fatal("nil logger replaced default")
	}
}
