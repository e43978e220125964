package observability

import (
	"context"
	"testing"

	"github.com/koopa0/recall/internal/log"
)

func TestSetupDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{
		ServiceName: "recall-test",
		Environment: "test",
	}, log.NewNop())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if shutdown == nil {
		t.Fatal("Setup returned nil shutdown")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSetupWithEndpoint(t *testing.T) {
	// Exporter creation does not dial; spans fail silently if nothing
	// listens on the endpoint.
	shutdown, err := Setup(context.Background(), Config{
		Endpoint:    "localhost:4318",
		ServiceName: "recall-test",
		Environment: "test",
	}, log.NewNop())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if shutdown == nil {
		t.Fatal("Setup returned nil shutdown")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
