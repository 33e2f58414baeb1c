// Package service assembles the core components into the surface transports
// embed: it parses the run-start envelope, issues the run id synchronously
// while the team workflow and artifact extraction proceed in a background
// goroutine, and drives the WebSocket team_stream_chat sequencing
// (run_started -> trace_event* -> team_final -> run_completed). HTTP and
// socket plumbing belong to the embedding transport, which hands this
// package a decoded envelope or a bridge.FrameSink.
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/error505/azure-cloud-ai-visualizer/core/agentrunner"
	"github.com/error505/azure-cloud-ai-visualizer/core/artifact"
	"github.com/error505/azure-cloud-ai-visualizer/core/bridge"
	"github.com/error505/azure-cloud-ai-visualizer/core/mcp"
	"github.com/error505/azure-cloud-ai-visualizer/core/model"
	"github.com/error505/azure-cloud-ai-visualizer/core/run"
	"github.com/error505/azure-cloud-ai-visualizer/core/team"
	"github.com/error505/azure-cloud-ai-visualizer/core/telemetry"
	"github.com/error505/azure-cloud-ai-visualizer/core/trace"
)

// Topology selects which team composition a run uses.
type Topology string

const (
	TopologySequential Topology = "sequential"
	TopologyParallel   Topology = "parallel"
)

// AgentSelection mirrors the run-start envelope's agent_config object.
// Unknown JSON keys are ignored and omitted keys default to
// false; Architect participates regardless of its flag.
type AgentSelection struct {
	Architect     bool `json:"architect"`
	Security      bool `json:"security"`
	Identity      bool `json:"identity"`
	Naming        bool `json:"naming"`
	Reliability   bool `json:"reliability"`
	Cost          bool `json:"cost"`
	Compliance    bool `json:"compliance"`
	Networking    bool `json:"networking"`
	Observability bool `json:"observability"`
	DataStorage   bool `json:"dataStorage"`
}

func (s AgentSelection) teamConfig() team.AgentConfig {
	return team.AgentConfig{
		Security:      s.Security,
		Identity:      s.Identity,
		Naming:        s.Naming,
		Reliability:   s.Reliability,
		Cost:          s.Cost,
		Compliance:    s.Compliance,
		Networking:    s.Networking,
		Observability: s.Observability,
		DataStorage:   s.DataStorage,
	}
}

// MCPSettings mirrors integration_settings.mcp: per-kind opt-in gates, all
// default-off.
type MCPSettings struct {
	Bicep     bool `json:"bicep"`
	Terraform bool `json:"terraform"`
	Docs      bool `json:"docs"`
}

// IntegrationSettings is the integration_settings object of the run-start
// envelope.
type IntegrationSettings struct {
	MCP MCPSettings `json:"mcp"`
}

// Envelope is the run-start request from the transport to the team
// workflow.
type Envelope struct {
	Topology            Topology            `json:"topology"`
	Prompt              string              `json:"prompt"`
	AgentConfig         AgentSelection      `json:"agent_config"`
	IntegrationSettings IntegrationSettings `json:"integration_settings"`
}

// EnvelopeFromFrame converts a WebSocket team_stream_chat frame into the
// run-start envelope it stands for.
func EnvelopeFromFrame(f bridge.TeamStreamChatFrame) Envelope {
	topo := TopologySequential
	if f.Parallel {
		topo = TopologyParallel
	}
	cfg := f.AgentConfig
	return Envelope{
		Topology: topo,
		Prompt:   f.Prompt,
		AgentConfig: AgentSelection{
			Architect:     true,
			Security:      cfg["security"],
			Identity:      cfg["identity"],
			Naming:        cfg["naming"],
			Reliability:   cfg["reliability"],
			Cost:          cfg["cost"],
			Compliance:    cfg["compliance"],
			Networking:    cfg["networking"],
			Observability: cfg["observability"],
			DataStorage:   cfg["dataStorage"],
		},
		IntegrationSettings: IntegrationSettings{MCP: MCPSettings{
			Bicep:     f.IntegrationSettings.MCP["bicep"],
			Terraform: f.IntegrationSettings.MCP["terraform"],
			Docs:      f.IntegrationSettings.MCP["docs"],
		}},
	}
}

// Outcome is the terminal result of one run: a best-effort RunArtifact plus
// the workflow error, if any. The artifact is populated even under failure
// so the transport response always completes.
type Outcome struct {
	Artifact artifact.RunArtifact
	Err      error
}

// Options configures a Service.
type Options struct {
	Client model.Client
	Bus    *trace.Bus
	Runner *agentrunner.Runner
	// MCP resolves optional schema/docs tool sessions for the IaC producers.
	// May be nil, in which case every producer uses the plain model path.
	MCP    *mcp.Registry
	Logger telemetry.Logger
	Tracer telemetry.Tracer
}

// Service owns the per-request assembly of a Team plus its artifact
// extractor. One Service serves many concurrent runs.
type Service struct {
	client model.Client
	bus    *trace.Bus
	runner *agentrunner.Runner
	mcp    *mcp.Registry
	logger telemetry.Logger
	tracer telemetry.Tracer
}

// New constructs a Service.
func New(opts Options) (*Service, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("service: model client is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("service: trace bus is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("service: agent runner is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Service{
		client: opts.Client,
		bus:    opts.Bus,
		runner: opts.Runner,
		mcp:    opts.MCP,
		logger: logger,
		tracer: tracer,
	}, nil
}

// Start validates env, issues a fresh run id synchronously, and launches
// the workflow plus artifact extraction in
// a background goroutine. The returned channel delivers exactly one Outcome
// and is then closed. The run id is already ensured on the bus when Start
// returns, but the workflow goroutine may emit before a caller attaches: a
// subscriber attached after Start returns receives live only the events
// emitted after its Attach (earlier ones remain in the journal when
// journaling is enabled).
func (s *Service) Start(ctx context.Context, env Envelope) (run.ID, <-chan Outcome, error) {
	return s.start(ctx, env, nil)
}

// start implements Start. preLaunch, when non-nil, runs after the run id is
// ensured on the bus but before the workflow goroutine is launched, so a
// caller can attach a subscriber that observes the run's very first event.
func (s *Service) start(ctx context.Context, env Envelope, preLaunch func(run.ID)) (run.ID, <-chan Outcome, error) {
	switch env.Topology {
	case TopologySequential, TopologyParallel:
	case "":
		env.Topology = TopologySequential
	default:
		return "", nil, fmt.Errorf("service: unknown topology %q", env.Topology)
	}

	tm, err := team.New(ctx, team.Options{
		Client: s.client,
		Bus:    s.bus,
		Runner: s.runner,
		Config: env.AgentConfig.teamConfig(),
		Logger: s.logger,
		Tracer: s.tracer,
	})
	if err != nil {
		return "", nil, err
	}

	id := s.bus.NewRun("lz")
	s.bus.EnsureRun(id)
	if preLaunch != nil {
		preLaunch(id)
	}

	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		var res team.Result
		var werr error
		if env.Topology == TopologyParallel {
			res, werr = tm.RunParallelPassOn(ctx, id, env.Prompt)
		} else {
			res, werr = tm.RunSequentialOn(ctx, id, env.Prompt)
		}
		if werr != nil {
			// Workflow failed mid-step: artifact extraction is skipped and the
			// caller gets a best-effort bundle.
			s.logger.Warn(ctx, "service: team run failed", "run_id", id.String(), "error", werr.Error())
			out <- Outcome{Artifact: artifact.RunArtifact{RunID: id}, Err: werr}
			return
		}
		ext, eerr := s.extractorFor(ctx, env.IntegrationSettings.MCP)
		if eerr != nil {
			s.logger.Warn(ctx, "service: artifact extractor setup failed", "run_id", id.String(), "error", eerr.Error())
			out <- Outcome{Artifact: artifact.RunArtifact{FinalText: res.FinalText, RunID: id}, Err: eerr}
			return
		}
		out <- Outcome{Artifact: ext.Extract(ctx, res.FinalText, id)}
	}()
	return id, out, nil
}

// Run is the blocking convenience over Start for transports that respond
// only on completion.
func (s *Service) Run(ctx context.Context, env Envelope) (artifact.RunArtifact, error) {
	id, out, err := s.Start(ctx, env)
	if err != nil {
		return artifact.RunArtifact{}, err
	}
	select {
	case <-ctx.Done():
		return artifact.RunArtifact{RunID: id}, ctx.Err()
	case o := <-out:
		return o.Artifact, o.Err
	}
}

// StreamTeamChat drives one team_stream_chat request over a WebSocket sink:
// acknowledge with run_started, mirror every trace event as a
// trace_event frame until the run's sentinel, then emit team_final and
// run_completed. The final frames are sent even when the workflow failed,
// carrying the best-effort artifact.
func (s *Service) StreamTeamChat(ctx context.Context, sink bridge.FrameSink, f bridge.TeamStreamChatFrame) error {
	var q *trace.Queue
	id, out, err := s.start(ctx, EnvelopeFromFrame(f), func(id run.ID) {
		q = s.bus.Attach(id)
	})
	if err != nil {
		return err
	}
	defer s.bus.Detach(id, q)
	if err := sink.Send(bridge.RunStartedFrame{Type: bridge.FrameRunStarted, RunID: id}); err != nil {
		return err
	}

	for {
		ev, ok, nerr := q.Next(ctx)
		if nerr != nil {
			return nerr
		}
		if !ok {
			break
		}
		raw, merr := json.Marshal(ev)
		if merr != nil {
			return fmt.Errorf("service: marshal trace event: %w", merr)
		}
		if serr := sink.Send(bridge.TraceEventFrame{Type: bridge.FrameTraceEvent, Event: raw}); serr != nil {
			return serr
		}
	}

	o := <-out
	if err := sink.Send(bridge.NewTeamFinalFrame(o.Artifact)); err != nil {
		return err
	}
	return sink.Send(bridge.RunCompletedFrame{Type: bridge.FrameRunCompleted, RunID: id})
}

// extractorFor binds the per-run IaC producers and the Architect
// re-derivation handle under the envelope's MCP gates.
func (s *Service) extractorFor(ctx context.Context, gates MCPSettings) (*artifact.Extractor, error) {
	bicepHandle, err := s.client.CreateAgent(ctx, "BicepGenerator", bicepGeneratorInstructions, nil)
	if err != nil {
		return nil, fmt.Errorf("service: create bicep generator: %w", err)
	}
	terraformHandle, err := s.client.CreateAgent(ctx, "TerraformGenerator", terraformGeneratorInstructions, nil)
	if err != nil {
		return nil, fmt.Errorf("service: create terraform generator: %w", err)
	}
	architectHandle, err := s.client.CreateAgent(ctx, "DiagramCartographer", cartographerInstructions, nil)
	if err != nil {
		return nil, fmt.Errorf("service: create cartographer: %w", err)
	}
	return &artifact.Extractor{
		Bicep: &artifact.Producer{
			Kind:        mcp.KindBicep,
			CodeField:   "bicep_code",
			Handle:      bicepHandle,
			MCP:         s.mcp,
			MCPEnabled:  gates.Bicep,
			DocsEnabled: gates.Docs,
			Logger:      s.logger,
		},
		Terraform: &artifact.Producer{
			Kind:        mcp.KindTerraform,
			CodeField:   "terraform_code",
			Handle:      terraformHandle,
			MCP:         s.mcp,
			MCPEnabled:  gates.Terraform,
			DocsEnabled: gates.Docs,
			Logger:      s.logger,
		},
		Architect: architectHandle,
		Logger:    s.logger,
		Tracer:    s.tracer,
	}, nil
}

const (
	bicepGeneratorInstructions = "You generate production Azure Bicep templates from architecture " +
		"diagrams. You always answer with a single JSON object and never wrap it in markdown."

	terraformGeneratorInstructions = "You generate production Terraform (azurerm) configurations from " +
		"architecture diagrams. You always answer with a single JSON object and never wrap it in markdown."

	cartographerInstructions = "You convert Azure IaC templates into the structured Diagram JSON " +
		"schema (nodes, edges, groups). You always answer with a single JSON object."
)
