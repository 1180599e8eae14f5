package session

import (
	"strings"
	"time"

	"github.com/parthfloyd/la-hacks/pkg/core"
	"github.com/parthfloyd/la-hacks/pkg/core/types"
)

// State is the lifecycle position of a live session.
type State int

const (
	StateAbsent State = iota
	StateConnecting
	StateActive
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Config describes one live session.
type Config struct {
	APIKey     string
	Model      string
	Host       string
	APIVersion string

	// Project and Location select Vertex AI instead of an API key.
	Project  string
	Location string

	SystemInstruction string
	GoogleSearch      bool

	// TurnTimeout abandons a turn that sees no completion signal in time. Zero disables it.
	TurnTimeout time.Duration
	// MediaSendInterval is the minimum gap between queued media sends.
	MediaSendInterval time.Duration
}

// Validate reports the first missing setting.
func (c Config) Validate() error {
	vertex := strings.TrimSpace(c.Project) != "" && strings.TrimSpace(c.Location) != ""
	if strings.TrimSpace(c.APIKey) == "" && !vertex {
		return core.NewConfigurationError("api key is required", "GEMINI_API_KEY")
	}
	if strings.TrimSpace(c.Model) == "" {
		return core.NewConfigurationError("model is required", "model")
	}
	if c.TurnTimeout < 0 {
		return core.NewConfigurationError("turn timeout must be >= 0", "turn_timeout")
	}
	if c.MediaSendInterval < 0 {
		return core.NewConfigurationError("media send interval must be >= 0", "media_send_interval")
	}
	return nil
}

// Callbacks receive session events. They run on a single dispatch goroutine, never
// concurrently with each other, and must not call Client.End.
type Callbacks struct {
	OnOpen func()
	// OnUpdate sees TurnInFlight still true while it handles the final update of a turn.
	OnUpdate func(types.Update)
	OnError  func(error)
	OnClose  func()
}
