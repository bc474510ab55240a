package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	cserr "github.com/chunkstack/chunkstack/internal/errors"
)

const (
	// DefaultOllamaHost is the local Ollama endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	ollamaConnectTimeout = 5 * time.Second
	ollamaPoolSize       = 4
)

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int // 0 auto-detects from the first embedding

	// SkipHealthCheck bypasses the startup probe (tests only).
	SkipHealthCheck bool
}

// OllamaProvider generates embeddings through Ollama's HTTP API.
type OllamaProvider struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Provider = (*OllamaProvider)(nil)

// NewOllamaProvider creates an Ollama provider and, unless skipped,
// probes the endpoint to freeze the vector dimensionality.
func NewOllamaProvider(ctx context.Context, cfg OllamaConfig) (*OllamaProvider, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}

	// No client-level timeout: per-call deadlines come from the
	// caller's context so embed timeouts stay configurable.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	p := &OllamaProvider{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		vecs, err := p.EmbedBatch(probeCtx, []string{"dimension probe"})
		if err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
		if p.dims == 0 {
			p.dims = len(vecs[0])
		} else if len(vecs[0]) != p.dims {
			transport.CloseIdleConnections()
			return nil, cserr.New(cserr.ErrCodeDimensionMismatch,
				fmt.Sprintf("model %s produces %d dimensions, configured %d",
					cfg.Model, len(vecs[0]), p.dims), nil)
		}
	}

	return p, nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// EmbedBatch posts a batch to /api/embed and maps HTTP failures onto
// the provider error taxonomy so the retry layer can act on them.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, cserr.FatalProviderError("ollama provider is closed", nil)
	}
	p.mu.RUnlock()

	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.config.Model, Input: inputs})
	if err != nil {
		return nil, cserr.New(cserr.ErrCodeProviderInvalid, "failed to encode embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, cserr.New(cserr.ErrCodeProviderInvalid, "failed to build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, cserr.TransientProviderError("ollama request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, string(msg))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, cserr.TransientProviderError("failed to decode embed response", err)
	}
	if out.Error != "" {
		return nil, cserr.TransientProviderError("ollama reported: "+out.Error, nil)
	}
	if len(out.Embeddings) != len(inputs) {
		return nil, cserr.TransientProviderError(
			fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(out.Embeddings)), nil)
	}
	return out.Embeddings, nil
}

// classifyStatus maps an HTTP status onto the error taxonomy.
func classifyStatus(status int, body string) error {
	msg := fmt.Sprintf("ollama returned status %d: %s", status, body)
	switch {
	case status == http.StatusTooManyRequests:
		return cserr.RateLimitedError(msg, nil)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return cserr.New(cserr.ErrCodeProviderInvalid, msg, nil)
	case status == http.StatusNotFound:
		// Model not pulled; retrying cannot help.
		return cserr.FatalProviderError(msg, nil)
	case status >= 500:
		return cserr.TransientProviderError(msg, nil)
	default:
		return cserr.FatalProviderError(msg, nil)
	}
}

// Dimensions returns the frozen vector dimensionality.
func (p *OllamaProvider) Dimensions() int {
	return p.dims
}

// Name identifies the provider and model.
func (p *OllamaProvider) Name() string {
	return "ollama/" + p.config.Model
}

// Available probes the endpoint with a short timeout.
func (p *OllamaProvider) Available(ctx context.Context) bool {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return false
	}
	p.mu.RUnlock()

	probeCtx, cancel := context.WithTimeout(ctx, ollamaConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close shuts down pooled connections.
func (p *OllamaProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.transport.CloseIdleConnections()
	return nil
}
