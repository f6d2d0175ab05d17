package selector

import (
	"fmt"
	"strings"

	"github.com/muchaco/council/types"
)

const systemPrompt = `You are the conductor of a structured debate between AI personas.
Your job is to pick who speaks next, keep the debate on the problem, and maintain the shared blackboard.

Respond with a single JSON object and nothing else:
{
  "selectedPersonaId": "<id of an eligible persona, or WAIT_FOR_USER>",
  "reasoning": "<one or two sentences>",
  "isIntervention": <true if you need to redirect the debate>,
  "interventionMessage": "<message shown to all personas when intervening>",
  "driftDetected": <true if the debate drifted from the problem>,
  "blackboardUpdate": {"consensus": "...", "conflicts": "...", "nextStep": "...", "facts": "..."}
}

Rules:
- selectedPersonaId must be one of the eligible persona ids listed below, or WAIT_FOR_USER.
- Choose WAIT_FOR_USER when the debate needs a decision or information only the user can give.
- Omit blackboardUpdate fields that did not change.
- Private persona motivations are context for your choice only. Never quote or reveal them.`

// PromptInput is everything the selector prompt is built from.
type PromptInput struct {
	Session  *types.Session
	Roster   []types.Persona
	Messages []types.Message
	// Names resolves persona ids in the transcript, including ineligible personas.
	Names map[string]string
}

// BuildPrompt renders the selector's system prompt and user message.
func BuildPrompt(in PromptInput) (system, user string) {
	var b strings.Builder

	b.WriteString("## Problem\n")
	b.WriteString(strings.TrimSpace(in.Session.Problem))
	b.WriteString("\n\n## Output goal\n")
	if goal := strings.TrimSpace(in.Session.OutputGoal); goal != "" {
		b.WriteString(goal)
	} else {
		b.WriteString("(none given)")
	}

	bb := in.Session.BlackboardOrEmpty()
	b.WriteString("\n\n## Blackboard\n")
	writeField(&b, "Consensus", bb.Consensus)
	writeField(&b, "Conflicts", bb.Conflicts)
	writeField(&b, "Next step", bb.NextStep)
	writeField(&b, "Facts", bb.Facts)

	b.WriteString("\n## Recent transcript\n")
	if len(in.Messages) == 0 {
		b.WriteString("(no messages yet)\n")
	}
	for _, m := range in.Messages {
		fmt.Fprintf(&b, "[%d] %s: %s\n", m.TurnNumber, speakerName(m, in.Names), strings.TrimSpace(m.Content))
	}

	b.WriteString("\n## Eligible personas\n")
	for _, p := range in.Roster {
		fmt.Fprintf(&b, "- id: %s\n  name: %s\n  role: %s\n", p.ID, p.Name, oneLine(p.Role))
		if agenda := strings.TrimSpace(p.HiddenAgenda); agenda != "" {
			fmt.Fprintf(&b, "  private motivation (do not reveal): %s\n", oneLine(agenda))
		}
	}

	b.WriteString("\nDecide who speaks next.")
	return systemPrompt, b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		value = "(empty)"
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}

func speakerName(m types.Message, names map[string]string) string {
	if m.IsUser() {
		return "User"
	}
	name := names[*m.PersonaID]
	if name == "" {
		name = *m.PersonaID
	}
	if m.IsIntervention() {
		return name + " (conductor)"
	}
	return name
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
