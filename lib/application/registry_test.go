package application

import (
	"testing"
)

func TestNewUnknownFactory(t *testing.T) {
	_, err := New(&Config{ID: "x", Factory: "does-not-exist"})
	if err == nil {
		t.Fatal("Expected an error for an unknown factory")
	}
	if code := CodeOf(err); code != ResultApplicationModuleError {
		t.Errorf("Expected result code %d, got %d (%v)", ResultApplicationModuleError, code, err)
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected a panic on duplicate registration")
		}
	}()
	Register("echo", newEchoApplication)
}

func TestEchoApplication(t *testing.T) {
	app, err := New(&Config{ID: "e", Factory: "echo", MaxBatchSize: 4})
	if err != nil {
		t.Fatalf("Failed to create echo application: %v", err)
	}

	if err := app.Startup(); err != nil {
		t.Fatalf("Startup failed: %v", err)
	}
	defer app.Shutdown()

	result, err := app.Request(map[string]any{"text": "hi"}, nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if result["text"] != "hi" {
		t.Errorf("Expected the input to be echoed, got %v", result)
	}

	batched, ok := app.(IBatchedApplication)
	if !ok {
		t.Fatal("Expected the echo application to support batching")
	}
	results, err := batched.RequestBatch(
		[]map[string]any{{"n": 1}, {"n": 2}},
		[]map[string]any{nil, nil},
	)
	if err != nil {
		t.Fatalf("RequestBatch failed: %v", err)
	}
	if len(results) != 2 || results[0]["n"] != 1 || results[1]["n"] != 2 {
		t.Errorf("Unexpected batch results: %v", results)
	}
}

func TestEchoRejectsNegativeDelay(t *testing.T) {
	_, err := New(&Config{ID: "e", Factory: "echo", Args: map[string]any{"delay_ms": -1}})
	if err == nil {
		t.Fatal("Expected an error for a negative delay")
	}
	if code := CodeOf(err); code != ResultApplicationConfigError {
		t.Errorf("Expected result code %d, got %d", ResultApplicationConfigError, code)
	}
}
