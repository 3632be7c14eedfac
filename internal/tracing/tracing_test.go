package tracing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cvinsight/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	sr := tracetest.NewSpanRecorder()
	return sr, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
}

func attrMap(span sdktrace.ReadOnlySpan) map[string]string {
	m := make(map[string]string)
	for _, kv := range span.Attributes() {
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}

func TestRecordErrorSetsTypeAndStatus(t *testing.T) {
	sr, tp := newRecorder()
	_, span := tp.Tracer("test").Start(context.Background(), "plugin")
	RecordError(span, errors.New("bad json"), ErrorTypePlugin)
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	attrs := attrMap(ended[0])
	assert.Equal(t, "plugin", attrs["error.type"])
	assert.Equal(t, "bad json", attrs["error.message"])
}

func TestRecordErrorClassifiesDeadline(t *testing.T) {
	sr, tp := newRecorder()
	_, span := tp.Tracer("test").Start(context.Background(), "plugin")
	RecordError(span, fmt.Errorf("call llm: %w", context.DeadlineExceeded), ErrorTypeLLM)
	span.End()

	assert.Equal(t, "timeout", attrMap(sr.Ended()[0])["error.type"])
}

func TestRecordHTTPErrorCategory(t *testing.T) {
	sr, tp := newRecorder()
	_, span := tp.Tracer("test").Start(context.Background(), "http")
	RecordHTTPError(span, errors.New("rate limited"), 429)
	span.End()

	attrs := attrMap(sr.Ended()[0])
	assert.Equal(t, "client_error", attrs["error.category"])
	assert.Equal(t, "429", attrs["http.status_code"])
}

func TestRecordNilIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordError(nil, errors.New("x"), ErrorTypeInternal)
		RecordTokenUsage(nil, 1, 2, 3, false)
	})
}

func TestInitWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestMaskAndTruncate(t *testing.T) {
	assert.Equal(t, "ja************om", SafeAttributeValue("candidate.email", "jane@example.com", 100))
	assert.Equal(t, "*", MaskPII("a"))
	assert.Equal(t, "J*", MaskPII("Jo"))
	assert.Equal(t, "A**e", MaskPII("Anne"))

	assert.Equal(t, "abcdef", TruncateString("abcdef", 10))
	assert.Equal(t, "ab...fg", TruncateString("abcdefg-long-abcdefg", 7))
	assert.Equal(t, "skills", SafeAttributeValue("plugin", "skills", 100))
}
