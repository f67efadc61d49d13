package main

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"ironwill/pkg/auth"
	"ironwill/pkg/judge"
)

const walkBody = `{"request_id":"r1","user_id":"u1","goal_id":"g1","timezone":"UTC","proof_url":"https://x/y.png","criteria":{"metric":"steps","operator":">=","target":10000},"goal_context":{"title":"Walk"}}`

func init() {
	color.NoColor = true
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "request.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func agentServer(t *testing.T, secret string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/internal/judge/audit", auth.SharedSecret("", secret)(judge.NewHandler(nil)))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunRequiresCommand(t *testing.T) {
	var out bytes.Buffer
	if err := run(nil, &out); err == nil || err.Error() != "command required" {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "ironwillctl commands:") {
		t.Fatalf("usage not printed: %s", out.String())
	}
	if err := run([]string{"nope"}, &out); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"validate", "--request", writeFile(t, walkBody)}, &out); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := out.String(); got != "valid request_id=r1 target=10000 (int)\n" {
		t.Fatalf("unexpected output %q", got)
	}

	out.Reset()
	broken := strings.Replace(walkBody, `,"goal_context":{"title":"Walk"}`, "", 1)
	err := run([]string{"validate", "--request", writeFile(t, broken)}, &out)
	if err == nil || err.Error() != "1 invalid field(s)" {
		t.Fatalf("expected one invalid field, got %v", err)
	}
	if !strings.Contains(out.String(), "invalid goal_context:") {
		t.Fatalf("field not reported: %s", out.String())
	}

	if err := run([]string{"validate"}, &out); err == nil {
		t.Fatal("expected missing request error")
	}
	if err := run([]string{"validate", "--request", filepath.Join(t.TempDir(), "missing.json")}, &out); err == nil {
		t.Fatal("expected read error")
	}
	if err := run([]string{"validate", "--bogus"}, &out); err == nil {
		t.Fatal("expected flag error")
	}
}

func TestAudit(t *testing.T) {
	srv := agentServer(t, "s3cret")
	reqPath := writeFile(t, walkBody)

	var out bytes.Buffer
	if err := run([]string{"audit", "--url", srv.URL, "--request", reqPath, "--secret", "s3cret"}, &out); err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !strings.HasPrefix(out.String(), "verdict: PASS\n") || !strings.Contains(out.String(), `"extracted_metrics"`) {
		t.Fatalf("unexpected output %s", out.String())
	}

	orig := getenv
	defer func() { getenv = orig }()
	getenv = func(k string) string {
		if k == "AGENT_INTERNAL_SECRET" {
			return "s3cret"
		}
		return ""
	}
	out.Reset()
	if err := run([]string{"audit", "--url", srv.URL, "--request", reqPath}, &out); err != nil {
		t.Fatalf("audit with env secret: %v", err)
	}

	err := run([]string{"audit", "--url", srv.URL, "--request", reqPath, "--secret", "wrong"}, &out)
	if err == nil || !strings.Contains(err.Error(), "Unauthorized") {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := agentServer(t, "s3cret")
	var out bytes.Buffer
	if err := run([]string{"health", "--url", srv.URL}, &out); err != nil {
		t.Fatalf("health: %v", err)
	}
	if out.String() != "ok\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
	if err := run([]string{"health", "--url", srv.URL + "/nowhere"}, &out); err == nil {
		t.Fatal("expected health failure")
	}
}

func TestGenSecret(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"gen-secret", "--bytes", "24"}, &out); err != nil {
		t.Fatalf("gen-secret: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(out.String()))
	if err != nil || len(raw) != 24 {
		t.Fatalf("expected 24 random bytes, got %d (%v)", len(raw), err)
	}
	if err := run([]string{"gen-secret", "--bytes", "8"}, &out); err == nil {
		t.Fatal("short secrets must be refused")
	}
}

func TestColorVerdict(t *testing.T) {
	for _, v := range []string{"PASS", "FAIL", "TECHNICAL_DIFFICULTY", "custom"} {
		if got := colorVerdict(v); got != v {
			t.Fatalf("with colors disabled expected %q, got %q", v, got)
		}
	}
}

func TestMainExitsOnError(t *testing.T) {
	origExit := osExit
	origArgs := os.Args
	defer func() {
		osExit = origExit
		os.Args = origArgs
	}()
	code := 0
	osExit = func(c int) { code = c }
	os.Args = []string{"ironwillctl", "unknown"}
	main()
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}
