package brain

import (
	"regexp"
	"strings"
)

var (
	thinkBlockRe = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
	jsonFenceRe  = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")
)

// splitThink separates <think> block content from the answer.
func splitThink(content string) (think, response string, found bool) {
	matches := thinkBlockRe.FindStringSubmatch(content)
	if len(matches) > 1 {
		think = strings.TrimSpace(matches[1])
		response = strings.TrimSpace(thinkBlockRe.ReplaceAllString(content, ""))
		return think, response, true
	}
	return "", content, false
}

// extractJSON returns the fenced JSON body when present, otherwise the span
// from the first '{' to the last '}'.
func extractJSON(raw string) string {
	if m := jsonFenceRe.FindStringSubmatch(raw); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return strings.TrimSpace(raw)
}
