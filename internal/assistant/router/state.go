package router

import (
	"jira-support-bot/internal/assistant/intent"
	"jira-support-bot/internal/assistant/knowledge"
	"jira-support-bot/internal/common/jira"
)

// State is a step of the routing state machine.
type State string

const (
	StateReceived     State = "received"
	StateClassified   State = "classified"
	StateExtracting   State = "extracting"
	StateTier1Attempt State = "tier1_attempt"
	StateTier2Attempt State = "tier2_attempt"
	StateSynthesizing State = "synthesizing"
	StateResponded    State = "responded"
)

func nextAfterClassify(in intent.Intent) State {
	switch {
	case in.IsMutation():
		return StateExtracting
	case in.IsResource():
		return StateTier1Attempt
	default:
		return StateTier2Attempt
	}
}

// nextAfterExtract skips both retrieval tiers when a slot is missing; the
// reply is then a clarification.
func nextAfterExtract(err error) State {
	if err != nil {
		return StateSynthesizing
	}
	return StateTier1Attempt
}

func nextAfterTier1(res *jira.Result, err error) State {
	if err == nil && res != nil {
		return StateSynthesizing
	}
	return StateTier2Attempt
}

func nextAfterTier2(_ []knowledge.Passage) State {
	return StateSynthesizing
}

// trace records the visited states in order.
type trace []State

func (t *trace) enter(s State) State {
	*t = append(*t, s)
	return s
}

func (t trace) strings() []string {
	out := make([]string, len(t))
	for i, s := range t {
		out[i] = string(s)
	}
	return out
}
