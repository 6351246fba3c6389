package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitProvider_ServesMetricsAndTraces(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	exp := tracetest.NewInMemoryExporter()
	tel, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion:   "test",
		TraceSampleRatio: 1,
		TraceExporter:    exp,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	m, err := NewMetrics(tel.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.FramesReceived.Add(context.Background(), 3)
	m.RecordFrameDropped(context.Background(), DropBackpressure, 1)

	_, span := StartSpan(WithRecordingID(context.Background(), "talk-1"), "vision.Finalize")
	span.End()

	srv := httptest.NewServer(tel.MetricsHandler)
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{"poise_frames_received", `reason="backpressure"`, "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape output missing %q", want)
		}
	}

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "vision.Finalize" {
		t.Fatalf("exported spans = %+v, want one vision.Finalize", spans)
	}
}

func TestSampler(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ratio float64
		want  string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
		{0, "TraceIDRatioBased{0}"},
	}
	for _, tc := range tests {
		if got := sampler(tc.ratio).Description(); !strings.Contains(got, tc.want) {
			t.Errorf("sampler(%v) = %q, want it to mention %q", tc.ratio, got, tc.want)
		}
	}
}
