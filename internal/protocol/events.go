package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who produced a transcript fragment.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// FlightToolName is the only tool whose response carries a domain result.
const FlightToolName = "check_flight_availability"

// Event is an inbound control event. The concrete type is one of
// Transcript, SubagentStart, SubagentComplete, TTFB, ToolResponse,
// Legacy or Unknown.
type Event interface {
	eventKind() string
}

// Transcript is a transcript fragment; Final distinguishes "transcript"
// from "transcript_partial".
type Transcript struct {
	Role  Role
	Text  string
	Final bool
}

// SubagentStart announces a tool or subagent invocation.
type SubagentStart struct {
	Agent string
	Args  map[string]any
}

// SubagentComplete reports the end of the active invocation.
type SubagentComplete struct {
	Agent    string
	Duration time.Duration
	Result   json.RawMessage
}

// TTFB reports the agent's time to first byte for the current turn.
type TTFB struct {
	Duration time.Duration
}

// ToolResponse carries a tool result for presentation. Flight is set only
// for check_flight_availability responses whose result decodes.
type ToolResponse struct {
	Tool   string
	Result json.RawMessage
	Flight *FlightOffer
}

// Legacy is the untyped {text, role} shape older agents send. It is a no-op.
type Legacy struct {
	Role Role
	Text string
}

// Unknown is any event with an unrecognized type tag.
type Unknown struct {
	Type string
}

func (Transcript) eventKind() string { return "transcript" }
func (SubagentStart) eventKind() string { return "subagent_start" }
func (SubagentComplete) eventKind() string { return "subagent_complete" }
func (TTFB) eventKind() string { return "ttfb" }
func (ToolResponse) eventKind() string { return "tool_response" }
func (Legacy) eventKind() string { return "legacy" }
func (Unknown) eventKind() string { return "unknown" }

// FlightOffer is the result payload of check_flight_availability.
type FlightOffer struct {
	Airline string  `json:"airline"`
	Flight  string  `json:"flight"`
	Price   float64 `json:"price"`
	Seats   int     `json:"seats"`
}

type envelope struct {
	Type     *string         `json:"type"`
	Role     Role            `json:"role"`
	Text     string          `json:"text"`
	Agent    string          `json:"agent"`
	Args     map[string]any  `json:"args"`
	Result   json.RawMessage `json:"result"`
	Duration *float64        `json:"duration"`
	Tool     string          `json:"tool"`
}

// Decode parses a text frame into an Event. Malformed JSON and timing
// events without a usable duration return an error; unrecognized types
// decode to Unknown.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed control payload: %w", err)
	}

	if env.Type == nil {
		if env.Text != "" && env.Role != "" {
			return Legacy{Role: env.Role, Text: env.Text}, nil
		}
		return Unknown{}, nil
	}

	switch *env.Type {
	case "transcript", "transcript_partial":
		if env.Role != RoleUser && env.Role != RoleAgent {
			return Unknown{Type: *env.Type}, nil
		}
		return Transcript{Role: env.Role, Text: env.Text, Final: *env.Type == "transcript"}, nil
	case "subagent_start":
		return SubagentStart{Agent: env.Agent, Args: env.Args}, nil
	case "subagent_complete":
		d, err := duration(*env.Type, env.Duration)
		if err != nil {
			return nil, err
		}
		return SubagentComplete{Agent: env.Agent, Duration: d, Result: env.Result}, nil
	case "ttfb":
		d, err := duration(*env.Type, env.Duration)
		if err != nil {
			return nil, err
		}
		return TTFB{Duration: d}, nil
	case "tool_response":
		resp := ToolResponse{Tool: env.Tool, Result: env.Result}
		if env.Tool == FlightToolName && len(env.Result) > 0 {
			var offer FlightOffer
			if err := json.Unmarshal(env.Result, &offer); err == nil {
				resp.Flight = &offer
			}
		}
		return resp, nil
	default:
		return Unknown{Type: *env.Type}, nil
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// duration validates a seconds field of a timing event.
func duration(kind string, s *float64) (time.Duration, error) {
	if s == nil {
		return 0, fmt.Errorf("malformed control payload: %s without duration", kind)
	}
	if *s < 0 {
		return 0, fmt.Errorf("malformed control payload: %s with negative duration %v", kind, *s)
	}
	return seconds(*s), nil
}
