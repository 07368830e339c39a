package application

import (
	"time"

	"github.com/spf13/cast"
)

func init() {
	Register("echo", newEchoApplication)
}

// echoApplication is a builtin application that returns its inputs. It is
// used for smoke tests and transport benchmarks. Supported args:
//
//	delay_ms: artificial processing delay per request (default 0)
type echoApplication struct {
	BaseApplication
	delay time.Duration
}

func newEchoApplication(cfg *Config) (IApplication, error) {
	delayMs := cast.ToInt64(cfg.Args["delay_ms"])
	if delayMs < 0 {
		return nil, Errorf(ResultApplicationConfigError, "echo: delay_ms must not be negative")
	}
	return &echoApplication{delay: time.Duration(delayMs) * time.Millisecond}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IApplication / IBatchedApplication)
// --------------------------------------------------------------------------

func (a *echoApplication) Request(params map[string]any, meta map[string]any) (map[string]any, error) {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}

	result := make(map[string]any, len(params))
	for k, v := range params {
		result[k] = v
	}
	return result, nil
}

func (a *echoApplication) RequestBatch(params []map[string]any, meta []map[string]any) ([]map[string]any, error) {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}

	results := make([]map[string]any, len(params))
	for i, p := range params {
		result := make(map[string]any, len(p))
		for k, v := range p {
			result[k] = v
		}
		results[i] = result
	}
	return results, nil
}
