package logger

import (
	"strings"
	"unicode/utf8"
)

// RedactEmail masks an email address for safe logging.
// "jane.roe@example.com" → "ja***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// TruncatePrompt shortens user prompt text for logging. Full prompts can
// run to kilobytes and often contain business details the user typed in.
func TruncatePrompt(prompt string) string {
	if len(prompt) <= maxPromptLogLen {
		return prompt
	}
	// Back up to a rune boundary so the cut never splits a multi-byte
	// character and leaks invalid UTF-8 into the log stream.
	cut := maxPromptLogLen
	for cut > 0 && !utf8.RuneStart(prompt[cut]) {
		cut--
	}
	return prompt[:cut] + "…"
}
