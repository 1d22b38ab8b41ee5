package translation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/novelmill/ai-core/services/lang"
	"github.com/novelmill/ai-core/services/providers"
)

const translationSystemPrompt = `You are a professional literary translator for serialized fiction. ` +
	`Translate the chapter faithfully, preserving tone, register and paragraph breaks. ` +
	`A glossary of established name translations may be provided: you MUST use those translations verbatim, ` +
	`never retranslate a glossary entry. Respond with a single JSON object and nothing else, using exactly these keys: ` +
	`"translated_title" (string), ` +
	`"translated_content" (string, the full translated chapter), ` +
	`"updated_entity_map" (object mapping each newly introduced proper noun in the original language to the translation you chose), ` +
	`"translator_notes" (array of strings; use an empty array when you have none). ` +
	`Do not wrap the JSON in markdown fences.`

// buildMessages assembles the translation prompt, embedding the entity
// glossary and preceding excerpts for cross-chapter consistency
func buildMessages(req *Request, tctx *Context) []providers.Message {
	var user strings.Builder

	fmt.Fprintf(&user, "Translate from %s to %s.\n\n",
		lang.DisplayName(req.SourceLang), lang.DisplayName(req.TargetLang))

	if tctx != nil && len(tctx.EntityNames) > 0 {
		user.WriteString("Glossary of established name translations (use verbatim):\n")
		for _, original := range sortedKeys(tctx.EntityNames) {
			fmt.Fprintf(&user, "%s => %s\n", original, tctx.EntityNames[original])
		}
		user.WriteString("\n")
	}

	if tctx != nil && len(tctx.PrecedingExcerpts) > 0 {
		user.WriteString("Excerpts from preceding chapters, for continuity:\n")
		for i, excerpt := range tctx.PrecedingExcerpts {
			fmt.Fprintf(&user, "[excerpt %d]\n%s\n", i+1, excerpt)
		}
		user.WriteString("\n")
	}

	fmt.Fprintf(&user, "Chapter title:\n%s\n\n", req.Title)
	user.WriteString("Chapter text:\n")
	user.WriteString(req.SourceText)

	return []providers.Message{
		{Role: providers.RoleSystem, Content: translationSystemPrompt},
		{Role: providers.RoleUser, Content: user.String()},
	}
}

// sortedKeys keeps glossary order stable across runs
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
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
