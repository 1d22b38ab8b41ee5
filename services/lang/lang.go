// Package lang canonicalizes BCP 47 language codes for prompt building.
package lang

import (
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var namer = display.English.Languages()

// DisplayName returns the English display name for a language code
// ("zh-CN" -> "Simplified Chinese"). Unparseable codes are returned as-is so
// prompts still carry whatever the caller supplied.
func DisplayName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}

	if name := namer.Name(tag); name != "" {
		return name
	}
	return code
}

// Canonical returns the canonical form of a language code and whether it
// parsed ("zh_cn" -> "zh-CN", true).
func Canonical(code string) (string, bool) {
	tag, err := language.Parse(code)
	if err != nil {
		return code, false
	}
	return tag.String(), true
}
