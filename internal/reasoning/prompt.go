package reasoning

import (
	"fmt"
	"strings"

	"github.com/aurora-insure/concierge/internal/tools"
)

const personaPrompt = "You are Aurora, an empathetic travel insurance concierge. " +
	"Adapt tone to the traveller's emotion, keep answers concise yet thorough, " +
	"and always explain reasoning with citations when referencing policies."

const protocolPrompt = "You have access to specialized tools.\n" +
	"Respond using a JSON object shaped as:\n" +
	`{"output": "<assistant reply or empty string>", "actions": [{"tool": "tool_name", "input": { ... }}]}` + "\n" +
	"List every required tool in execution order inside the actions array.\n" +
	"When you need to call tools, set `output` to an empty string and populate `actions`.\n" +
	"After tool results are available, produce the final answer by setting `output` and an empty `actions` array.\n" +
	"Always cite policy sources in `output` when giving direct answers."

// BuildSystemPrompt assembles the system blocks for one reasoning call: the
// persona, the channel, the serialized tool catalog, and the directive
// protocol.
func BuildSystemPrompt(channel string, catalog []tools.Spec) []string {
	var descriptions strings.Builder
	for _, spec := range catalog {
		fmt.Fprintf(&descriptions, "- %s: %s | Schema: %s\n", spec.Name, spec.Description, spec.Schema)
	}

	return []string{
		personaPrompt,
		fmt.Sprintf("Channel: %s.", channel),
		fmt.Sprintf("Available Tools:\n%s", strings.TrimRight(descriptions.String(), "\n")),
		protocolPrompt,
	}
}
