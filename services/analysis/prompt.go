package analysis

import (
	"fmt"
	"strings"

	"github.com/novelmill/ai-core/services/lang"
	"github.com/novelmill/ai-core/services/providers"
)

const analysisSystemPrompt = `You are a literary analyst for serialized fiction. ` +
	`Given one chapter, extract the proper nouns that must stay consistent across chapters ` +
	`and write a concise summary. Respond with a single JSON object and nothing else, using exactly these keys: ` +
	`"characters" (array of character names as they appear in the text), ` +
	`"places" (array of location names), ` +
	`"terms" (array of special terms, titles, techniques or organizations), ` +
	`"summary" (string, 3-5 sentences, written in the same language as the chapter). ` +
	`Use empty arrays when a category has no entries. Do not wrap the JSON in markdown fences.`

// buildMessages assembles the analysis prompt for one chapter
func buildMessages(text, languageCode string) []providers.Message {
	var user strings.Builder
	fmt.Fprintf(&user, "Chapter language: %s\n\n", lang.DisplayName(languageCode))
	user.WriteString("Chapter text:\n")
	user.WriteString(text)

	return []providers.Message{
		{Role: providers.RoleSystem, Content: analysisSystemPrompt},
		{Role: providers.RoleUser, Content: user.String()},
	}
}

// renderPrompt flattens messages for diagnostics
func renderPrompt(messages []providers.Message) string {
	var sb strings.Builder
	for i, msg := range messages {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		sb.WriteString("[" + msg.Role + "]\n")
		sb.WriteString(msg.Content)
	}
	return sb.String()
}
