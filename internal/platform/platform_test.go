package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"mlforge/internal/invoke"
	"mlforge/internal/jobs"
	"mlforge/internal/shared"
)

func newTestAPI(t *testing.T, handler http.HandlerFunc) *API {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	api, err := New(ts.URL, "test-key", zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	return api
}

func TestSendSetsHeadersAndReturnsBody(t *testing.T) {
	var gotAuth, gotVariant, gotID string
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/endpoints/my-ep/invocations" {
			t.Errorf("path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotVariant = r.Header.Get("X-Forge-Target-Variant")
		gotID = r.Header.Get("X-Forge-Inference-Id")
		w.Write([]byte(`{"prediction":1}`))
	})

	raw, err := api.Send(context.Background(), &invoke.SendRequest{
		EndpointName:  "my-ep",
		ContentType:   "application/json",
		Accept:        "application/json",
		TargetVariant: "blue",
		InferenceID:   "inf-1",
		Body:          []byte(`{"x":1}`),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(raw) != `{"prediction":1}` {
		t.Fatalf("body: %s", raw)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth header: %s", gotAuth)
	}
	if gotVariant != "blue" || gotID != "inf-1" {
		t.Fatalf("metadata headers: variant=%s id=%s", gotVariant, gotID)
	}
}

func TestNotFoundIsTagged(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such endpoint", http.StatusNotFound)
	})

	_, err := api.DescribeEndpoint(context.Background(), "missing")
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("expected not-found tag, got %v", err)
	}
}

func TestConflictIsTaggedAlreadyExists(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "duplicate model", http.StatusConflict)
	})

	err := api.CreateEndpoint(context.Background(), "ep", "cfg")
	if !errors.Is(err, shared.ErrAlreadyExists) {
		t.Fatalf("expected already-exists tag, got %v", err)
	}
}

func TestOtherErrorsAreUntagged(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := api.Describe(context.Background(), "job-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrAlreadyExists) {
		t.Fatalf("500 must stay unclassified, got %v", err)
	}
}

func TestSubmitReturnsJobID(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		var spec jobs.JobSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"job_id": spec.Name})
	})

	id, err := api.Submit(context.Background(), &jobs.JobSpec{Name: "svc-model-pytorch-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "svc-model-pytorch-1" {
		t.Fatalf("job id: %s", id)
	}
}

func TestDescribeParsesStatus(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/training-jobs/job-1" {
			t.Errorf("path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "InProgress"})
	})

	status, err := api.Describe(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if status != jobs.StatusInProgress {
		t.Fatalf("status: %s", status)
	}
}
