package services

import (
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\[([A-Za-z0-9_ ]+)\]`)

// RenderMessage merges [field] placeholders in an instance's message template
// against the contact's field values from the notify payload. Unknown
// placeholders render empty rather than leaking brackets to the recipient.
func RenderMessage(template string, fields map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		return fields[name]
	})
}
