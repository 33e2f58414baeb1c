// Package mcp implements the MCP Tool Registry: lazily opened, cached
// streaming sessions to optional external tool servers (Bicep schema,
// Terraform schema, docs), with per-endpoint cooldown on failure or
// rate-limit so a misbehaving or absent endpoint never blocks core progress.
package mcp

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/error505/azure-cloud-ai-visualizer/core/telemetry"
)

// Kind identifies one of the three tool server flavors the registry knows
// how to provision.
type Kind string

const (
	KindBicep     Kind = "bicep"
	KindTerraform Kind = "terraform"
	KindDocs      Kind = "docs"
)

const (
	defaultCooldown    = 5 * time.Minute
	terraformShortCooldown = 1 * time.Minute
)

// Tool is a cached, live MCP session scoped to one endpoint.
type Tool interface {
	// CallTool invokes a tool by name with JSON-ish arguments and returns the
	// MCP call result.
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcpsdk.CallToolResult, error)
	// Close releases the underlying session. Safe to call multiple times.
	Close() error
}

type session struct {
	client  *mcpsdk.ClientSession
	closeMu sync.Mutex
	closed  bool
}

func (s *session) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcpsdk.CallToolResult, error) {
	return s.client.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: arguments})
}

func (s *session) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// EndpointConfig describes one configured MCP tool endpoint.
type EndpointConfig struct {
	// Enabled gates whether the registry will ever contact this endpoint.
	Enabled bool
	// URL is the streamable-HTTP MCP endpoint.
	URL string
	// ForceDocs bypasses the "looks like a human docs page" heuristic for
	// KindDocs endpoints.
	ForceDocs bool
}

// Options configures the registry.
type Options struct {
	Bicep     EndpointConfig
	Terraform EndpointConfig
	Docs      EndpointConfig
	Logger    telemetry.Logger
}

type entry struct {
	mu       sync.Mutex
	tool     Tool
	resolved bool // true once we've attempted a handshake at least once
	cooldown time.Time
}

// Registry caches one session per Kind and applies per-endpoint cooldowns.
// It is safe for concurrent use by multiple agent-runner goroutines.
type Registry struct {
	cfg    Options
	logger telemetry.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[Kind]*entry
}

// New builds a Registry from the given endpoint configuration.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Registry{
		cfg:     opts,
		logger:  logger,
		now:     time.Now,
		entries: make(map[Kind]*entry),
	}
}

// Get returns a cached or freshly provisioned Tool for kind, or nil when the
// kind is disabled, on cooldown, or the handshake fails. Get never returns an
// error: a nil Tool simply means callers fall back to a plain model call.
func (r *Registry) Get(ctx context.Context, kind Kind) Tool {
	cfg, ok := r.endpointConfig(kind)
	if !ok || !cfg.Enabled {
		return nil
	}
	if kind == KindDocs && looksLikeHumanDocsURL(cfg.URL) && !cfg.ForceDocs {
		return nil
	}

	e := r.entryFor(kind)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tool != nil {
		return e.tool
	}
	if e.resolved && r.now().Before(e.cooldown) {
		return nil
	}

	tool, err := r.connect(ctx, cfg.URL)
	e.resolved = true
	if err != nil {
		e.cooldown = r.now().Add(cooldownFor(kind, err))
		r.logger.Warn(ctx, "mcp handshake failed, entering cooldown",
			"kind", string(kind), "error", err.Error(), "cooldown_until", e.cooldown)
		return nil
	}
	e.tool = tool
	return tool
}

// Close closes every cached tool exactly once.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		e.mu.Lock()
		tool := e.tool
		e.tool = nil
		e.mu.Unlock()
		if tool == nil {
			continue
		}
		if err := tool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) entryFor(kind Kind) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[kind]
	if !ok {
		e = &entry{}
		r.entries[kind] = e
	}
	return e
}

func (r *Registry) endpointConfig(kind Kind) (EndpointConfig, bool) {
	switch kind {
	case KindBicep:
		return r.cfg.Bicep, true
	case KindTerraform:
		return r.cfg.Terraform, true
	case KindDocs:
		return r.cfg.Docs, true
	default:
		return EndpointConfig{}, false
	}
}

func (r *Registry) connect(ctx context.Context, endpoint string) (Tool, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("mcp: endpoint url is required")
	}
	transport := &mcpsdk.StreamableClientTransport{Endpoint: endpoint}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "cloudarch-core",
		Version: "1.0.0",
	}, nil)
	sess, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	return &session{client: sess}, nil
}

// cooldownFor picks the cooldown window for a failed handshake: a
// shorter one for generic Terraform errors to avoid hammering a
// frequently-redeployed schema server, and the longer window for everything
// else, including any kind (Terraform too) whose error text signals
// rate-limiting ("429" or "rate limit").
func cooldownFor(kind Kind, err error) time.Duration {
	if isRateLimited(err) {
		return defaultCooldown
	}
	if kind == KindTerraform {
		return terraformShortCooldown
	}
	return defaultCooldown
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "429") || strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

// looksLikeHumanDocsURL is a light heuristic used to avoid spending a
// handshake attempt against an endpoint that is plainly a browsable docs
// page rather than an MCP server.
func looksLikeHumanDocsURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	switch {
	case strings.HasSuffix(path, ".html"), strings.HasSuffix(path, ".htm"):
		return true
	case strings.Contains(path, "/docs/") && !strings.Contains(path, "/mcp"):
		return true
	default:
		return false
	}
}
