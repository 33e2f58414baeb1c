package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/clue/log"
)

func fieldKeys(fielders []log.Fielder) []string {
	var keys []string
	for _, f := range fielders {
		if kv, ok := f.(log.KV); ok {
			keys = append(keys, kv.K)
		}
	}
	return keys
}

func TestStartStepStampsContextWithIdentity(t *testing.T) {
	tracer := NewClueTracer()
	ctx, span := tracer.StartStep(context.Background(), "lz-1", "3", "Security")
	defer span.End()

	id, ok := stepFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "lz-1", id.runID)
	require.Equal(t, "3", id.stepID)
	require.Equal(t, "Security", id.agent)
}

func TestLogFieldsCarryStepIdentity(t *testing.T) {
	ctx := withStep(context.Background(), stepIdentity{runID: "lz-1", stepID: "2", agent: "Cost Optimization"})
	fielders := logFields(ctx, "hello", []any{"k", "v"})
	require.Equal(t, []string{"msg", "run_id", "step_id", "agent", "k"}, fieldKeys(fielders))
}

func TestLogFieldsOutsideStepOmitIdentity(t *testing.T) {
	fielders := logFields(context.Background(), "hello", []any{"k", "v"}, log.KV{K: "severity", V: "warning"})
	require.Equal(t, []string{"msg", "severity", "k"}, fieldKeys(fielders))
}

func TestKvToFieldersSkipsNonStringKeys(t *testing.T) {
	fielders := kvToFielders([]any{"a", 1, 42, "dropped", "b"})
	require.Equal(t, []string{"a", "b"}, fieldKeys(fielders))
}
