package agent

import (
	"fmt"
	"strings"

	"github.com/miraihub/mirai-gateway/internal/store"
)

const basePrompt = `You are an AI assistant.

## CONVERSATION CONTEXT INSTRUCTIONS
1. If the user's query appears to lack specific context (e.g., "What do you think?", "How about that?"), assume it refers to the most recent conversation points in the history.
2. Do not introduce new topics or generic responses when the query is context-less - continue the existing discussion.
3. If there is no conversation history, or if the query clearly indicates a new topic, then treat it as a fresh conversation.
4. Stay focused on the current discussion thread unless explicitly directed to a new topic.
5. Acknowledge previous points when continuing the conversation.`

const responseGuidelines = `## RESPONSE GUIDELINES
1. Maintain your character voice while following the conversation context instructions
2. Ensure factual accuracy in your responses
3. Keep responses conversational and natural
4. If continuing a previous discussion, reference relevant points from earlier in the conversation
5. If the conversation shifts to a new topic, acknowledge the change explicitly`

// PromptInput carries everything a turn contributes to the prompt.
type PromptInput struct {
	Persona        *Persona
	History        []*store.Message
	CurrentMessage string
	GroundingText  string // augmented system block, "" when ungrounded
	ModuleResult   bool   // grounding came from an API module, not search
}

// BuildSystemPrompt assembles the system block: base instructions, the
// grounding context when present, the persona identity and the response
// guidelines.
func BuildSystemPrompt(in *PromptInput) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if in.GroundingText != "" {
		if in.ModuleResult {
			b.WriteString("\n\n## API MODULE INFORMATION\n")
		} else {
			b.WriteString("\n\n## FACTUAL INFORMATION\n")
		}
		b.WriteString(in.GroundingText)
	}

	if in.Persona != nil && in.Persona.PersonalityPrompt != "" {
		b.WriteString("\n\n## AGENT IDENTITY\n")
		b.WriteString(in.Persona.PersonalityPrompt)
	}

	b.WriteString("\n\n")
	b.WriteString(responseGuidelines)
	return b.String()
}

// BuildPrompt renders the full prompt: system block, numbered conversation
// history, then the current query.
func BuildPrompt(in *PromptInput) string {
	var b strings.Builder
	b.WriteString(BuildSystemPrompt(in))
	b.WriteString("\n\n")

	if len(in.History) > 0 {
		b.WriteString("CONVERSATION HISTORY:\n")
		for i, msg := range in.History {
			speaker := "User"
			if msg.Type == store.MessageAgent {
				speaker = "Assistant"
				if name := msg.Metadata["agent_name"]; name != "" {
					speaker = name
				}
			}
			fmt.Fprintf(&b, "[%d] %s: %s\n\n", i+1, speaker, msg.Content)
		}
		b.WriteString("END OF HISTORY\n\n")
	}

	fmt.Fprintf(&b, "CURRENT QUERY: %s\n\nAssistant:", in.CurrentMessage)
	return b.String()
}

// GlobalPreamble prefixes a persona's personality for the multi-agent
// global conversation, naming the agent that was addressed.
func GlobalPreamble(agentName string) string {
	return fmt.Sprintf(`You are part of a multi-agent conversation where users can talk to different AI assistants by name.
You have been specifically addressed as %s.
You should respond in the persona of %s as defined in your personality prompt.
You should be aware of the context of the conversation, including messages sent to other agents.`, agentName, agentName)
}
