package uploader

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/nucleus/bridge-sync/internal/controlplane"
	"github.com/nucleus/bridge-sync/internal/model"
	"github.com/nucleus/bridge-sync/internal/obslog"
)

func newArtifact(t *testing.T, contents string) *model.TransferArtifact {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "artifact-*.jsonl.gz")
	if err != nil {
		t.Fatalf("create temp artifact: %v", err)
	}
	if _, err := f.WriteString(contents); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	info, err := f.Stat()
	if err != nil {
		t.Fatalf("stat artifact: %v", err)
	}
	f.Close()
	return &model.TransferArtifact{Path: f.Name(), MappingID: "users", RunID: "run-1", Seq: 0, RecordCount: 2, Bytes: info.Size()}
}

func TestPutCommitsOnHappyPath(t *testing.T) {
	var notified controlplane.NotifyRequest
	var uploadedBody []byte
	var tokenCalls, uploadCalls, notifyCalls int

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/v1/schemas/users/generate-upload-token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		resp := controlplane.TokenResponse{
			UploadURL: server.URL + "/upload/object",
			Method:    http.MethodPut,
			ExpiresAt: time.Now().Add(time.Hour),
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/upload/object", func(w http.ResponseWriter, r *http.Request) {
		uploadCalls++
		uploadedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/schemas/users/notify-upload", func(w http.ResponseWriter, r *http.Request) {
		notifyCalls++
		_ = json.NewDecoder(r.Body).Decode(&notified)
		w.WriteHeader(http.StatusOK)
	})

	cp := controlplane.New(controlplane.DefaultConfig(server.URL, "test-key"))
	u := New(cp, obslog.Root())
	mapping := &model.Mapping{ID: "users", SchemaSlug: "users", Transfer: model.TransferParams{RetryAttempts: 3}}
	artifact := newArtifact(t, "hello-artifact-bytes")

	receipt, err := u.Put(context.Background(), mapping, artifact, "row-42")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if receipt.State != StateCommitted {
		t.Fatalf("expected StateCommitted, got %s", receipt.State)
	}
	if tokenCalls != 1 || uploadCalls != 1 || notifyCalls != 1 {
		t.Fatalf("expected exactly one call per phase, got token=%d upload=%d notify=%d", tokenCalls, uploadCalls, notifyCalls)
	}
	if string(uploadedBody) != "hello-artifact-bytes" {
		t.Fatalf("unexpected uploaded body: %q", uploadedBody)
	}
	if notified.WatermarkAfter != "row-42" {
		t.Fatalf("expected watermark forwarded to notify call, got %q", notified.WatermarkAfter)
	}
	if notified.RecordCount != artifact.RecordCount {
		t.Fatalf("expected record count forwarded, got %d", notified.RecordCount)
	}
}

func TestPutFailsPermanentlyOnBadRequest(t *testing.T) {
	var tokenCalls int
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/v1/schemas/users/generate-upload-token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad mapping config"))
	})

	cp := controlplane.New(controlplane.DefaultConfig(server.URL, "test-key"))
	u := New(cp, obslog.Root())
	mapping := &model.Mapping{ID: "users", SchemaSlug: "users", Transfer: model.TransferParams{RetryAttempts: 3}}
	artifact := newArtifact(t, "hello-artifact-bytes")

	_, err := u.Put(context.Background(), mapping, artifact, "")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if tokenCalls != 1 {
		t.Fatalf("expected a 400 to be treated as permanent (no retries), got %d calls", tokenCalls)
	}
}

func TestPutRetriesTransientUploadFailure(t *testing.T) {
	var uploadCalls int
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/v1/schemas/users/generate-upload-token", func(w http.ResponseWriter, r *http.Request) {
		resp := controlplane.TokenResponse{UploadURL: server.URL + "/upload/object", Method: http.MethodPut}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/upload/object", func(w http.ResponseWriter, r *http.Request) {
		uploadCalls++
		if uploadCalls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/schemas/users/notify-upload", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cfg := controlplane.DefaultConfig(server.URL, "test-key")
	cp := controlplane.New(cfg)
	u := New(cp, obslog.Root())
	mapping := &model.Mapping{ID: "users", SchemaSlug: "users", Transfer: model.TransferParams{RetryAttempts: 3}}
	artifact := newArtifact(t, "hello-artifact-bytes")

	receipt, err := u.Put(context.Background(), mapping, artifact, "")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if receipt.State != StateCommitted {
		t.Fatalf("expected eventual commit after transient failure, got %s", receipt.State)
	}
	if uploadCalls != 2 {
		t.Fatalf("expected exactly one retry, got %d upload calls", uploadCalls)
	}
}
