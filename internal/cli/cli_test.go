package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/overseer-lite/overseer-lite/internal/crypto"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func wantContains(t *testing.T, what, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("%s = %q, want it to contain %q", what, got, want)
	}
}

// ---------------------------------------------------------------------------
// health
// ---------------------------------------------------------------------------

func healthServer(ready bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/health":
			_, _ = w.Write([]byte(`{"status":"healthy","service":"overseer-lite"}`))
		case "/ready":
			if !ready {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"ready":false,"checks":{"store":"unhealthy"},"error":"store not ready"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ready":true,"checks":{"store":"healthy"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestHealthCommand_Ready(t *testing.T) {
	srv := healthServer(true)
	defer srv.Close()

	out, err := execute(t, "", "health", "--url", srv.URL)
	if err != nil {
		t.Fatalf("health error: %v", err)
	}
	for _, want := range []string{"Status:  healthy", "Ready:   true", "store:  healthy"} {
		wantContains(t, "output", out, want)
	}
}

func TestHealthCommand_NotReady(t *testing.T) {
	srv := healthServer(false)
	defer srv.Close()

	out, err := execute(t, "", "health", "--url", srv.URL, "--json")
	if err == nil {
		t.Fatal("health error = nil, want not ready")
	}
	wantContains(t, "error", err.Error(), "store not ready")

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if parsed["ready"] != false {
		t.Errorf("ready = %v, want false", parsed["ready"])
	}
}

func TestHealthCommand_Unreachable(t *testing.T) {
	srv := healthServer(true)
	srv.Close()

	if _, err := execute(t, "", "health", "--url", srv.URL); err == nil {
		t.Error("health against a closed server succeeded")
	}
}

// ---------------------------------------------------------------------------
// proof
// ---------------------------------------------------------------------------

func TestBuildProof(t *testing.T) {
	now := time.Unix(1700000000, 0)
	req, err := buildProof(&proofFlags{password: "hunter2", iterations: crypto.MinIterations}, "http://media.local", now)
	if err != nil {
		t.Fatalf("buildProof() error: %v", err)
	}

	if req.Origin != "http://media.local" || req.Timestamp != now.Unix() {
		t.Errorf("buildProof() = %+v, want origin http://media.local at %d", req, now.Unix())
	}
	want := crypto.BuildProof(crypto.DeriveKey("hunter2", "http://media.local", crypto.MinIterations), now.Unix())
	if req.Hash != want {
		t.Errorf("Hash = %q, want %q", req.Hash, want)
	}
}

func TestBuildProof_RequiresPassword(t *testing.T) {
	t.Setenv("OVERSEER_PASSWORD", "")
	if _, err := buildProof(&proofFlags{}, "http://media.local", time.Now()); err == nil {
		t.Error("buildProof() without a password succeeded")
	}
}

func TestProofCommand_ExplicitTimestamp(t *testing.T) {
	out, err := execute(t, "", "proof", "--password", "hunter2", "--origin", "http://a", "--timestamp", "1700000000")
	if err != nil {
		t.Fatalf("proof error: %v", err)
	}

	var req VerifyRequest
	if err := json.Unmarshal([]byte(out), &req); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if req.Timestamp != 1700000000 {
		t.Errorf("Timestamp = %d, want 1700000000", req.Timestamp)
	}
	if len(req.Hash) != 64 {
		t.Errorf("len(Hash) = %d, want 64", len(req.Hash))
	}
}

// ---------------------------------------------------------------------------
// login
// ---------------------------------------------------------------------------

func TestLoginCommand(t *testing.T) {
	var got VerifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/params":
			_, _ = w.Write([]byte(`{"iterations":100000}`))
		case "/api/auth/verify":
			_ = json.NewDecoder(r.Body).Decode(&got)
			if got.Name == "" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"Name is required (max 50 chars)"}`))
				return
			}
			_, _ = w.Write([]byte(`{"valid":true,"token":"tok.123.sig","name":"` + got.Name + `"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := execute(t, "", "login", "--url", srv.URL, "--password", "hunter2", "--name", "Ops")
	if err != nil {
		t.Fatalf("login error: %v", err)
	}
	if out != "tok.123.sig\n" {
		t.Errorf("output = %q, want the bare token", out)
	}
	if got.Origin != srv.URL || got.Name != "Ops" || got.Hash == "" {
		t.Errorf("verify request = %+v, want origin %s, name Ops and a hash", got, srv.URL)
	}
}

func TestLoginCommand_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/params" {
			_, _ = w.Write([]byte(`{"iterations":100000}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid credentials"}`))
	}))
	defer srv.Close()

	_, err := execute(t, "", "login", "--url", srv.URL, "--password", "wrong")
	if err == nil {
		t.Fatal("login with a wrong password succeeded")
	}
	wantContains(t, "error", err.Error(), "Invalid credentials")
}

// ---------------------------------------------------------------------------
// sync
// ---------------------------------------------------------------------------

func TestSyncCommand_FromFile(t *testing.T) {
	var (
		gotQuery string
		gotBody  []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"status":"ok","media_type":"movie","synced":2,"marked_as_added":1}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "movies.json")
	if err := os.WriteFile(path, []byte(`[{"tmdb_id":603},{"tmdb_id":604}]`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	out, err := execute(t, "", "sync", "--url", srv.URL, "-f", path, "--media-type", "movie", "--token", "s3cret", "--clear")
	if err != nil {
		t.Fatalf("sync error: %v", err)
	}
	wantContains(t, "output", out, "Synced 2 movie items, 1 requests marked as added")
	wantContains(t, "query", gotQuery, "token=s3cret")
	wantContains(t, "query", gotQuery, "clear=true")

	var sent []map[string]int64
	if err := json.Unmarshal(gotBody, &sent); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	want := []map[string]int64{{"tmdb_id": 603}, {"tmdb_id": 604}}
	if !reflect.DeepEqual(sent, want) {
		t.Errorf("request body = %v, want %v", sent, want)
	}
}

func TestSyncCommand_Validation(t *testing.T) {
	t.Setenv("OVERSEER_WEBHOOK_TOKEN", "")

	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{"bad media type", "[]", []string{"sync", "--media-type", "music", "--token", "x"}, "media-type"},
		{"missing token", "[]", []string{"sync", "--media-type", "tv"}, "webhook token"},
		{"not an array", `{"tmdb_id":1}`, []string{"sync", "--media-type", "tv", "--token", "x"}, "JSON array"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.stdin, tt.args...)
			if err == nil {
				t.Fatalf("%v succeeded, want an error", tt.args)
			}
			wantContains(t, "error", err.Error(), tt.want)
		})
	}
}
