package transcript

import (
	"testing"

	"github.com/lexiqai/voice-client/internal/protocol"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

const (
	user  = protocol.RoleUser
	agent = protocol.RoleAgent
)

func TestAggregator_UserFold(t *testing.T) {
	a := NewAggregator()

	a.Partial(user, "he")
	a.Partial(user, "hello")
	a.Final(user, "hello")

	assert.Equal(t, []Entry{{Role: user, Text: "hello"}}, a.Log())
	assert.Empty(t, a.Accumulator(user))
}

func TestAggregator_AgentDeltas(t *testing.T) {
	a := NewAggregator()

	a.Partial(agent, "Hi")
	assert.Equal(t, []Entry{{Role: agent, Text: "Hi"}}, a.Log())

	a.Partial(agent, " there")
	assert.Equal(t, []Entry{{Role: agent, Text: "Hi there"}}, a.Log())

	a.Final(agent, "Hi there!")
	assert.Equal(t, []Entry{{Role: agent, Text: "Hi there!"}}, a.Log())
}

func TestAggregator_InterruptionClearsAgentBuffer(t *testing.T) {
	a := NewAggregator()

	a.Partial(agent, "Let me")
	a.Partial(user, "wait")
	a.Partial(agent, "Sure")

	assert.Equal(t, []Entry{
		{Role: agent, Text: "Let me"},
		{Role: user, Text: "wait"},
		{Role: agent, Text: "Sure"},
	}, a.Log())
}

func TestAggregator_ClearAccumulators(t *testing.T) {
	a := NewAggregator()

	a.Partial(agent, "Once upon")
	a.ClearAccumulators()
	a.Partial(agent, "Okay")

	assert.Equal(t, []Entry{{Role: agent, Text: "Okay"}}, a.Log())
}

func TestAggregator_Apply(t *testing.T) {
	a := NewAggregator()

	a.Apply(protocol.Transcript{Role: user, Text: "bo"})
	a.Apply(protocol.Transcript{Role: user, Text: "book a flight", Final: true})
	a.Apply(protocol.Transcript{Role: agent, Text: "Sure"})

	assert.Equal(t, []Entry{
		{Role: user, Text: "book a flight"},
		{Role: agent, Text: "Sure"},
	}, a.Log())
}

func TestAggregator_LogIsACopy(t *testing.T) {
	a := NewAggregator()
	a.Final(user, "hello")

	log := a.Log()
	log[0].Text = "mutated"

	assert.Equal(t, "hello", a.Log()[0].Text)
}

func TestAggregator_NoConsecutiveSameRole(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := NewAggregator()
		roles := rapid.SampledFrom([]protocol.Role{user, agent})

		steps := rapid.IntRange(0, 50).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			role := roles.Draw(t, "role")
			text := rapid.StringN(0, 8, -1).Draw(t, "text")
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				a.Partial(role, text)
			case 1:
				a.Final(role, text)
			case 2:
				a.ClearAccumulators()
			}
		}

		log := a.Log()
		for i := 1; i < len(log); i++ {
			if log[i].Role == log[i-1].Role {
				t.Fatalf("entries %d and %d share role %s", i-1, i, log[i].Role)
			}
		}
	})
}
