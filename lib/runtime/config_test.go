package runtime

import (
	"strings"
	"testing"
)

func TestDefaultSettingsAreValid(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Errorf("Default settings must validate, got: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Settings){
		"zero replicas":       func(s *Settings) { s.ReplicateApplication = 0 },
		"negative restarts":   func(s *Settings) { s.MaxAllowedRestarts = -1 },
		"zero queue size":     func(s *Settings) { s.QueueSize = 0 },
		"bad watchdog window": func(s *Settings) { s.WatchdogRequestThreshold = 1; s.WatchdogRequestAverage = 0 },
		"missing placeholder": func(s *Settings) { s.IPCEndpoint = "/tmp/fixed.sock" },
		"unknown transport":   func(s *Settings) { s.IPCTransport = "pigeon" },
		"unknown serializer":  func(s *Settings) { s.Serializer = "xml" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			settings := DefaultSettings()
			mutate(&settings)
			if err := settings.Validate(); err == nil {
				t.Error("Expected validation to fail")
			}
		})
	}
}

func TestIPCEndpointFor(t *testing.T) {
	settings := DefaultSettings()
	settings.IPCEndpoint = "/run/inferd-%s.sock"

	if got := settings.IPCEndpointFor("echo"); got != "/run/inferd-echo.sock" {
		t.Errorf("Expected /run/inferd-echo.sock, got %q", got)
	}
}

func TestSettingsString(t *testing.T) {
	s := DefaultSettings().String()
	for _, want := range []string{"[Replicas]", "[Watchdog]", "[Network]", "ReplicateApplication"} {
		if !strings.Contains(s, want) {
			t.Errorf("Expected settings string to contain %q:\n%s", want, s)
		}
	}
}
