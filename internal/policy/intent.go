package policy

import (
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MEKXH/gatekeep/internal/proposal"
)

const (
	categoryDelete = "delete"
	categoryFormat = "format"
)

var (
	deleteKeywords = []string{"delete", "remove", "rm", "drop", "wipe", "truncate", "刪除", "清空", "移除"}
	formatKeywords = []string{"format", "prettier", "eslint --fix", "eslint-fix", "gofmt", "rustfmt", "black", "格式化", "整理排版"}
)

// Intent is the outcome of destructive-intent inspection.
type Intent struct {
	Delete   bool
	Format   bool
	Evidence []string
}

// Destructive reports whether any destructive keyword matched.
func (i Intent) Destructive() bool {
	return i.Delete || i.Format
}

// InspectIntent scans tool name, reason and inputs for destructive keywords.
func InspectIntent(p proposal.ToolProposal) Intent {
	text := strings.ToLower(string(p.Tool) + " " + p.Reason + " " + inputsText(p.Inputs))

	var intent Intent
	if kw, ok := firstMatch(text, deleteKeywords); ok {
		intent.Delete = true
		intent.Evidence = append(intent.Evidence, categoryDelete+":"+kw)
	}
	if kw, ok := firstMatch(text, formatKeywords); ok {
		intent.Format = true
		intent.Evidence = append(intent.Evidence, categoryFormat+":"+kw)
	}
	return intent
}

func inputsText(inputs map[string]any) string {
	if len(inputs) == 0 {
		return ""
	}
	data, err := json.Marshal(inputs)
	if err != nil {
		return ""
	}
	return strings.ToLower(string(data))
}

func firstMatch(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if containsKeyword(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// containsKeyword matches ASCII keywords only at the start of a word so that
// "rm" hits "rm -rf" and "rmdir" but not "information". Non-ASCII keywords
// are matched as plain substrings.
func containsKeyword(text, kw string) bool {
	if !isASCII(kw) {
		return strings.Contains(text, kw)
	}
	for offset := 0; ; {
		idx := strings.Index(text[offset:], kw)
		if idx < 0 {
			return false
		}
		pos := offset + idx
		prev, _ := utf8.DecodeLastRuneInString(text[:pos])
		if pos == 0 || !isWordRune(prev) {
			return true
		}
		offset = pos + 1
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
