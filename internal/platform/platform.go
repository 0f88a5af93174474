// Package platform is the HTTP adapter to the managed ML platform's control
// and data planes. It implements the collaborator contracts the client
// components consume (invoke.Invoker, jobs.JobControl,
// deploy.EndpointControl) and converts HTTP status codes into the typed
// error kinds the rest of the library branches on.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mlforge/internal/deploy"
	"mlforge/internal/invoke"
	"mlforge/internal/jobs"
	"mlforge/internal/shared"
)

type API struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.SugaredLogger
}

func New(baseURL, apiKey string, log *zap.SugaredLogger) (*API, error) {
	if baseURL == "" {
		return nil, errors.New("platform base url is required")
	}
	tr := &http.Transport{
		Dial: (&net.Dialer{
			Timeout: shared.DefaultDialTimeout,
		}).Dial,
		TLSHandshakeTimeout: shared.DefaultDialTimeout,
		DisableKeepAlives:   false,
	}
	return &API{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Transport: tr, Timeout: shared.DefaultHTTPTimeout},
		log:     log,
	}, nil
}

// Send performs one online inference call.
func (a *API) Send(ctx context.Context, req *invoke.SendRequest) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/endpoints/%s/invocations", a.baseURL, req.EndpointName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, errors.Join(errors.New("failed to create http request"), err)
	}
	a.authorize(httpReq)
	httpReq.Header.Set("Content-Type", req.ContentType)
	httpReq.Header.Set("Accept", req.Accept)
	if req.TargetVariant != "" {
		httpReq.Header.Set("X-Forge-Target-Variant", req.TargetVariant)
	}
	if req.CustomAttributes != "" {
		httpReq.Header.Set("X-Forge-Custom-Attributes", req.CustomAttributes)
	}
	if req.InferenceID != "" {
		httpReq.Header.Set("X-Forge-Inference-Id", req.InferenceID)
	}

	return a.do(httpReq)
}

// Submit starts a training job and returns its id.
func (a *API) Submit(ctx context.Context, spec *jobs.JobSpec) (string, error) {
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := a.doJSON(ctx, http.MethodPost, "/v1/training-jobs", spec, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return spec.Name, nil
	}
	return out.JobID, nil
}

// Describe reads the current status of a training job.
func (a *API) Describe(ctx context.Context, jobID string) (jobs.Status, error) {
	var out struct {
		Status string `json:"status"`
	}
	path := fmt.Sprintf("/v1/training-jobs/%s", jobID)
	if err := a.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return jobs.Status(out.Status), nil
}

func (a *API) CreateModel(ctx context.Context, model *deploy.ModelResource) error {
	return a.doJSON(ctx, http.MethodPost, "/v1/models", model, nil)
}

func (a *API) CreateEndpointConfig(ctx context.Context, cfg *deploy.EndpointConfigResource) error {
	return a.doJSON(ctx, http.MethodPost, "/v1/endpoint-configs", cfg, nil)
}

func (a *API) CreateEndpoint(ctx context.Context, name, configName string) error {
	body := map[string]string{"name": name, "config_name": configName}
	return a.doJSON(ctx, http.MethodPost, "/v1/endpoints", body, nil)
}

func (a *API) UpdateEndpoint(ctx context.Context, name, configName string) error {
	body := map[string]string{"config_name": configName}
	path := fmt.Sprintf("/v1/endpoints/%s", name)
	return a.doJSON(ctx, http.MethodPut, path, body, nil)
}

func (a *API) DescribeEndpoint(ctx context.Context, name string) (*deploy.EndpointInfo, error) {
	var out deploy.EndpointInfo
	path := fmt.Sprintf("/v1/endpoints/%s", name)
	if err := a.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) authorize(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", a.apiKey))
	}
}

// doJSON sends an optional JSON body and decodes an optional JSON response.
func (a *API) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Join(errors.New("failed to marshal request"), err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return errors.Join(errors.New("failed to create http request"), err)
	}
	a.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	raw, err := a.do(req)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Join(errors.New("failed to parse platform response"), err)
	}
	return nil
}

func (a *API) do(req *http.Request) ([]byte, error) {
	start := time.Now()
	res, err := a.http.Do(req)
	if err != nil {
		return nil, errors.Join(errors.New("failed to send http request"), err)
	}
	defer func() {
		if closeErr := res.Body.Close(); closeErr != nil {
			a.log.Warnw("Failed to close response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Join(errors.New("failed to read response body"), err)
	}
	if res.StatusCode >= 400 {
		return nil, classify(res.StatusCode, raw)
	}
	a.log.Debugw("Platform call succeeded",
		"method", req.Method,
		"path", req.URL.Path,
		"status", res.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())
	return raw, nil
}

// classify turns an HTTP failure into a tagged error so callers branch on
// errors.Is rather than message text.
func classify(status int, body []byte) error {
	base := fmt.Errorf("platform returned error: [%d: %s]", status, bytes.TrimSpace(body))
	switch status {
	case http.StatusNotFound:
		return errors.Join(base, shared.ErrNotFound)
	case http.StatusConflict:
		return errors.Join(base, shared.ErrAlreadyExists)
	default:
		return base
	}
}
