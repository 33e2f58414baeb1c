// Package team composes role-agents into a review workflow over a shared
// trace.Bus-backed run: either a sequential pipeline where each reviewer
// refines the previous output, or a draft+fan-out+merge pass where enabled
// reviewers critique the architect's draft concurrently.
package team

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/error505/azure-cloud-ai-visualizer/core/agentrunner"
	"github.com/error505/azure-cloud-ai-visualizer/core/model"
	"github.com/error505/azure-cloud-ai-visualizer/core/run"
	"github.com/error505/azure-cloud-ai-visualizer/core/telemetry"
	"github.com/error505/azure-cloud-ai-visualizer/core/trace"
)

// AgentConfig selects which reviewer roles participate in a run. Architect
// and FinalEditor are always enabled regardless of the caller's flags.
type AgentConfig struct {
	Security      bool
	Identity      bool
	Naming        bool
	Reliability   bool
	Cost          bool
	Compliance    bool
	Networking    bool
	Observability bool
	DataStorage   bool
}

func (c AgentConfig) enabled(role Role) bool {
	switch role {
	case RoleArchitect, RoleFinalEditor:
		return true
	case RoleSecurity:
		return c.Security
	case RoleIdentity:
		return c.Identity
	case RoleNaming:
		return c.Naming
	case RoleReliability:
		return c.Reliability
	case RoleCost:
		return c.Cost
	case RoleCompliance:
		return c.Compliance
	case RoleNetworking:
		return c.Networking
	case RoleObservability:
		return c.Observability
	case RoleDataStorage:
		return c.DataStorage
	default:
		return false
	}
}

// Result is a team run's output, consumed by the artifact extractor.
type Result struct {
	FinalText string
	RunID     run.ID
}

// Options configures a Team.
type Options struct {
	Client model.Client
	Bus    *trace.Bus
	Runner *agentrunner.Runner
	Config AgentConfig
	// Tools, if non-nil, are attached to the matching role's CreateAgent
	// call (for example MCP-backed docs tools for the Architect).
	Tools  map[Role][]*model.ToolDefinition
	Logger telemetry.Logger
	Tracer telemetry.Tracer
}

// Team holds the bound agent handles for one configured set of roles.
type Team struct {
	bus     *trace.Bus
	runner  *agentrunner.Runner
	cfg     AgentConfig
	handles map[Role]model.AgentHandle
	logger  telemetry.Logger
	tracer  telemetry.Tracer
}

// sequentialOrder is the fixed review pipeline order.
var sequentialOrder = []Role{
	RoleArchitect, RoleSecurity, RoleIdentity, RoleNaming,
	RoleReliability, RoleCost, RoleCompliance, RoleFinalEditor,
}

// parallelReviewers is the fan-out reviewer set for the parallel topology.
var parallelReviewers = []Role{
	RoleReliability, RoleCost, RoleNetworking, RoleObservability, RoleDataStorage,
}

// New binds an AgentHandle for every enabled role plus Architect and
// FinalEditor, which are always enabled.
func New(ctx context.Context, opts Options) (*Team, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("team: model client is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("team: trace bus is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("team: agent runner is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}

	opts.Runner.Guidance().Register(StructuredDiagramGuidance, "[structured diagram guidance omitted]")

	allRoles := make(map[Role]struct{})
	for _, r := range sequentialOrder {
		allRoles[r] = struct{}{}
	}
	for _, r := range parallelReviewers {
		allRoles[r] = struct{}{}
	}

	handles := make(map[Role]model.AgentHandle, len(allRoles))
	for role := range allRoles {
		if !opts.Config.enabled(role) {
			continue
		}
		handle, err := opts.Client.CreateAgent(ctx, string(role), instructions[role], opts.Tools[role])
		if err != nil {
			return nil, fmt.Errorf("team: create agent %q: %w", role, err)
		}
		handles[role] = handle
	}

	return &Team{bus: opts.Bus, runner: opts.Runner, cfg: opts.Config, handles: handles, logger: logger, tracer: tracer}, nil
}

func userMessage(text string) []*model.Message {
	return []*model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: text}}}}
}

// RunSequential drives the ordered review pipeline: Architect -> Security? ->
// Identity? -> Naming? -> Reliability? -> Cost? -> Compliance? ->
// FinalEditor. Step k's full text output becomes step k+1's input.
func (t *Team) RunSequential(ctx context.Context, prompt string) (Result, error) {
	return t.RunSequentialOn(ctx, t.bus.NewRun("lz"), prompt)
}

// RunSequentialOn runs the sequential pipeline on a caller-provided run id,
// so transports that must answer a run-start request with the id
// synchronously can mint it before the workflow goroutine starts.
func (t *Team) RunSequentialOn(ctx context.Context, id run.ID, prompt string) (Result, error) {
	t.bus.EnsureRun(id)
	defer t.bus.Finish(id)

	ctx, span := t.tracer.Start(ctx, "team.run_sequential")
	defer span.End()

	var enabled []Role
	for _, r := range sequentialOrder {
		if t.cfg.enabled(r) {
			enabled = append(enabled, r)
		}
	}
	total := len(enabled)

	messages := userMessage(prompt)
	var lastText string
	for i, role := range enabled {
		meta := map[string]any{"waf_pillar": wafPillar[role]}
		text, err := t.runner.Run(ctx, agentrunner.Config{
			RunID: id, StepID: run.StepID(i + 1), Total: total,
			AgentName: string(role), Handle: t.handles[role], Input: messages, Meta: meta,
		})
		if err != nil {
			span.RecordError(err)
			return Result{}, fmt.Errorf("team: sequential step %d (%s): %w", i+1, role, err)
		}
		messages = userMessage(text)
		lastText = text
	}
	return Result{FinalText: lastText, RunID: id}, nil
}

// RunParallelPass drives the draft+fan-out+merge topology: Architect drafts,
// enabled reviewers run concurrently over the draft, FinalEditor merges.
// Reviewer failures do not cancel their siblings; a partial set of reviews
// is still useful, so the aggregator runs over whichever reviewer outputs
// succeeded.
func (t *Team) RunParallelPass(ctx context.Context, prompt string) (Result, error) {
	return t.RunParallelPassOn(ctx, t.bus.NewRun("lz"), prompt)
}

// RunParallelPassOn runs the draft+fan-out+merge topology on a
// caller-provided run id; see RunSequentialOn.
func (t *Team) RunParallelPassOn(ctx context.Context, id run.ID, prompt string) (Result, error) {
	t.bus.EnsureRun(id)
	defer t.bus.Finish(id)

	ctx, span := t.tracer.Start(ctx, "team.run_parallel_pass")
	defer span.End()

	var reviewers []Role
	for _, r := range parallelReviewers {
		if t.cfg.enabled(r) {
			reviewers = append(reviewers, r)
		}
	}
	total := 1 + len(reviewers) + 1

	draft, err := t.runner.Run(ctx, agentrunner.Config{
		RunID: id, StepID: 1, Total: total,
		AgentName: string(RoleArchitect), Handle: t.handles[RoleArchitect],
		Input: userMessage(prompt), Meta: map[string]any{"waf_pillar": "-"},
	})
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("team: architect draft: %w", err)
	}

	results := make([]string, len(reviewers))
	var g errgroup.Group
	for idx, role := range reviewers {
		idx, role := idx, role
		g.Go(func() error {
			text, rerr := t.runner.Run(ctx, agentrunner.Config{
				RunID: id, StepID: run.StepID(idx + 2), Total: total,
				AgentName: string(role), Handle: t.handles[role], Input: userMessage(draft),
				Meta: map[string]any{"parallel_group": "fanout-1", "waf_pillar": "parallel"},
			})
			if rerr != nil {
				t.logger.Warn(ctx, "team: reviewer failed, continuing fan-out", "role", string(role), "error", rerr.Error())
				return nil
			}
			results[idx] = text
			return nil
		})
	}
	_ = g.Wait()

	var survivors []string
	for _, r := range results {
		if r != "" {
			survivors = append(survivors, r)
		}
	}
	merged := draft
	if len(survivors) > 0 {
		merged = joinWithDelimiter(survivors)
	}

	final, err := t.runner.Run(ctx, agentrunner.Config{
		RunID: id, StepID: run.StepID(total), Total: total,
		AgentName: string(RoleFinalEditor), Handle: t.handles[RoleFinalEditor],
		Input: userMessage(merged), Meta: map[string]any{"aggregator": "FinalEditor"},
	})
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("team: final editor: %w", err)
	}
	return Result{FinalText: final, RunID: id}, nil
}

const fanOutDelimiter = "\n\n---\n\n"

func joinWithDelimiter(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += fanOutDelimiter + p
	}
	return out
}
