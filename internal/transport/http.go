package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/dispatch"
	"github.com/mattjoyce/exert/internal/log"
	"github.com/mattjoyce/exert/internal/signature"
	"github.com/mattjoyce/exert/internal/wire"
)

// PrincipalHeader carries the base64 encoded principal of a request.
const PrincipalHeader = "X-Principal"

// DefaultTimeout bounds one HTTP exchange with a provider.
const DefaultTimeout = 30 * time.Second

const maxErrorBody = 4 * 1024

var ErrUnknownProvider = errors.New("unknown provider")

// Endpoint is a provider reachable over HTTP.
type Endpoint struct {
	Name   string
	URL    string
	APIKey string
}

// HTTP sends remote exertions to provider API servers. It never retries:
// each Send is one POST.
type HTTP struct {
	client    *http.Client
	endpoints map[string]Endpoint
	fallback  string
	logger    *slog.Logger
}

var (
	_ dispatch.Transport   = (*HTTP)(nil)
	_ dispatch.Provisioner = (*HTTP)(nil)
)

// NewHTTP creates a transport over endpoints. fallback names the endpoint
// used for signatures naming no provider or ANY; empty means the first.
func NewHTTP(endpoints []Endpoint, fallback string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	h := &HTTP{
		client:    &http.Client{Timeout: timeout},
		endpoints: make(map[string]Endpoint, len(endpoints)),
		fallback:  fallback,
		logger:    log.WithComponent("transport"),
	}
	for i, ep := range endpoints {
		ep.URL = strings.TrimRight(ep.URL, "/")
		h.endpoints[ep.Name] = ep
		if h.fallback == "" && i == 0 {
			h.fallback = ep.Name
		}
	}
	return h
}

func (h *HTTP) Send(ctx context.Context, req *dispatch.Request) (*data.Context, error) {
	ep, err := h.endpoint(req.Signature.Provider)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	if err := wire.EncodeRequest(&body, &wire.Request{
		Protocol:  wire.Version,
		RoutineID: req.RoutineID,
		Routine:   req.Routine,
		Signature: req.Signature,
		Context:   req.Context,
		Txn:       req.Txn,
	}); err != nil {
		return nil, err
	}

	path := "/exert/" + url.PathEscape(req.Signature.Type) + "/" + url.PathEscape(req.Signature.Selector)
	httpReq, err := h.newRequest(ctx, ep, path, &body)
	if err != nil {
		return nil, err
	}
	if len(req.Principal) > 0 {
		httpReq.Header.Set(PrincipalHeader, base64.StdEncoding.EncodeToString(req.Principal))
	}

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post %s%s: %w", ep.URL, path, err)
	}
	defer resp.Body.Close()

	h.logger.Debug("provider call",
		"provider", ep.Name,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(ep.Name, resp)
	}
	out, err := wire.DecodeResponse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", ep.Name, err)
	}
	return fromResponse(ep.Name, out)
}

// Provision posts the deployment to every endpoint.
func (h *HTTP) Provision(ctx context.Context, deploymentID string, deployments []signature.Deployment) error {
	payload, err := json.Marshal(wire.ProvisionRequest{DeploymentID: deploymentID, Deployments: deployments})
	if err != nil {
		return fmt.Errorf("marshal provision request: %w", err)
	}
	for _, ep := range h.endpoints {
		req, err := h.newRequest(ctx, ep, "/provision", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return fmt.Errorf("provision %s: %w", ep.Name, err)
		}
		var perr error
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
			perr = statusError(ep.Name, resp)
		}
		_ = resp.Body.Close()
		if perr != nil {
			return perr
		}
	}
	return nil
}

// Has reports whether an endpoint named name is configured.
func (h *HTTP) Has(name string) bool {
	_, ok := h.endpoints[name]
	return ok
}

func (h *HTTP) endpoint(name string) (Endpoint, error) {
	if name == "" || name == signature.AnyProvider {
		name = h.fallback
	}
	ep, ok := h.endpoints[name]
	if !ok {
		return Endpoint{}, fmt.Errorf("provider %q: %w", name, ErrUnknownProvider)
	}
	return ep, nil
}

func (h *HTTP) newRequest(ctx context.Context, ep Endpoint, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}
	return req, nil
}

func statusError(provider string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return fmt.Errorf("provider %s: http %d: %s", provider, resp.StatusCode, e.Error)
	}
	return fmt.Errorf("provider %s: http %d", provider, resp.StatusCode)
}
