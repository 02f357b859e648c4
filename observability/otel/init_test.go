package otel

import (
	"context"
	"testing"
)

func TestSetupDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	shutdown, err := Setup(context.Background(), "greenproofd", "test")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected shutdown function")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupRequiresServiceName(t *testing.T) {
	if _, err := Setup(context.Background(), "  ", "test"); err == nil {
		t.Fatal("expected error for blank service name")
	}
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector.internal:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "authorization=Bearer abc, team=green")

	env := settingsFromEnv()
	if env.endpoint != "collector.internal:4318" {
		t.Fatalf("unexpected endpoint %q", env.endpoint)
	}
	if env.insecure {
		t.Fatal("expected insecure to be disabled")
	}
	if env.headers["authorization"] != "Bearer abc" || env.headers["team"] != "green" {
		t.Fatalf("unexpected headers %v", env.headers)
	}
}

func TestParseHeadersDropsMalformedPairs(t *testing.T) {
	headers := parseHeaders("a=1,,broken, =nokey ,b = 2 ")
	if len(headers) != 2 {
		t.Fatalf("expected 2 headers, got %v", headers)
	}
	if headers["a"] != "1" || headers["b"] != "2" {
		t.Fatalf("unexpected headers %v", headers)
	}
}
