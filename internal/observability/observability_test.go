package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestContextHandlerAddsRequestValues(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(&ctxHandler{slog.NewJSONHandler(&buf, nil)})

	ctx := WithTraceID(WithUserID(WithRequestID(context.Background(), "req-1"), "u1"), "abc")
	Component(logger, "feed").InfoContext(ctx, "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "u1", rec["user_id"])
	assert.Equal(t, "abc", rec["trace_id"])
	assert.Equal(t, "feed", rec["component"])

	buf.Reset()
	logger.Info("bare")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.NotContains(t, rec, "request_id")
}

func TestSampler(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ratio float64
		want  string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "ParentBased"},
	}
	for _, tt := range tests {
		assert.True(t, strings.HasPrefix(sampler(tt.ratio).Description(), tt.want), "ratio %v", tt.ratio)
	}
}

func TestOutcome(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}

// Not parallel: swaps the package tracer.
func TestStartSpanRecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := Tracer
	Tracer = tp.Tracer("test")
	t.Cleanup(func() { Tracer = prev })

	ctx, span := StartSpan(context.Background(), "interaction.like", "post_id", "p1")
	assert.NotEmpty(t, TraceID(ctx))
	span.End(errors.New("conflict"))

	_, plain := StartSpan(context.Background(), "interaction.comment")
	plain.End(nil)

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "interaction.like", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	require.Len(t, ended[0].Attributes(), 1)
	assert.Equal(t, "p1", ended[0].Attributes()[0].Value.AsString())
	assert.Equal(t, codes.Unset, ended[1].Status().Code)

	assert.Empty(t, TraceID(context.Background()))
}
