package obs

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                     "/",
		"/metrics":                             "/metrics",
		"/v1/auth/otp":                         "/v1/auth/otp",
		"/v1/auth/otp/verify":                  "/v1/auth/otp/verify",
		"/v1/clinics/c1":                       "/v1/clinics/:id",
		"/v1/clinics/c1/doctors/d1":            "/v1/clinics/:id/doctors/:id",
		"/v1/clinics/c1/doctors/d1/patients/p": "/v1/clinics/:id/doctors/:id/patients/:id",
		"/v1/auth/me?verbose=1":                "/v1/auth/me",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestLoggerWritesJSON(t *testing.T) {
	logger := Logger()
	original := logger.Out
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	LogRequest(map[string]any{"path": "/healthz", "status": 200})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg", "path", "status"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in %v", key, entry)
		}
	}
	if entry["msg"] != "request_complete" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
}

func TestSetLevelRejectsUnknown(t *testing.T) {
	if err := SetLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if err := SetLevel("info"); err != nil {
		t.Fatalf("SetLevel(info): %v", err)
	}
}

func TestInitBuildInfoFallsBackToVCS(t *testing.T) {
	InitBuildInfo("1.2.3", "none")
	InitBuildInfo("1.2.3", "abc123")
	ch := make(chan prometheus.Metric, 4)
	buildInfo.Collect(ch)
	close(ch)
	if got := len(ch); got != 1 {
		t.Fatalf("expected a single build_info series after re-init, got %d", got)
	}
	if vcsRevision() == "" {
		t.Fatal("vcs revision must never be empty")
	}
}
