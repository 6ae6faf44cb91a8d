// Package factlog stores facts as tagged markdown lines, one file per tier.
//
// Line format:
//
//	- [id:pf_1a2b3c4d] [t:profile] [imp:high] Text body.
//	- [id:wk_5e6f7a8b] [t:working] [imp:normal] [exp:2026-03-24] Text body.
//
// Tags are read only from the run of [k:v] tokens after the bullet. A body
// that starts with "[" or a backslash is written with a leading backslash.
package factlog

import (
	"regexp"
	"strings"

	"github.com/rcliao/fact-memory/internal/model"
)

var (
	tagRe    = regexp.MustCompile(`^\[([a-z]+):([^\]\s]+)\]\s*`)
	bulletRe = regexp.MustCompile(`^\s*-\s*`)
	spaceRe  = regexp.MustCompile(`\s+`)
	dateRe   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Format encodes a fact as a single line without a trailing newline.
func Format(f model.Fact) string {
	var b strings.Builder
	b.WriteString("- [id:")
	b.WriteString(f.ID)
	b.WriteString("] [t:")
	b.WriteString(string(f.Type))
	b.WriteString("] [imp:")
	b.WriteString(string(f.Importance))
	b.WriteString("]")
	if f.ExpiresAt != "" {
		b.WriteString(" [exp:")
		b.WriteString(f.ExpiresAt)
		b.WriteString("]")
	}
	b.WriteString(" ")
	text := Clean(f.Text)
	if strings.HasPrefix(text, "[") || strings.HasPrefix(text, `\`) {
		b.WriteString(`\`)
	}
	b.WriteString(text)
	return b.String()
}

// Clean collapses every whitespace run, line breaks included, to one space
// and trims the result. Fact text is always stored cleaned.
func Clean(text string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}

// Parse decodes a tagged fact line. Tags may appear in any order and unknown
// tags are ignored. It returns false for lines that are not valid facts.
func Parse(line string) (model.Fact, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "- ") {
		return model.Fact{}, false
	}

	tags, rest := leadingTags(StripBullet(trimmed))
	f := model.Fact{
		ID:         tags["id"],
		Type:       model.FactType(tags["t"]),
		Importance: model.Importance(tags["imp"]),
		Text:       unescape(Clean(rest)),
	}
	if f.ID == "" || !f.Type.Valid() || !f.Importance.Valid() {
		return model.Fact{}, false
	}
	if exp := tags["exp"]; dateRe.MatchString(exp) {
		f.ExpiresAt = exp
	}
	return f, true
}

// ParseLegacy wraps an untagged "- text" line as a low-importance archive fact.
func ParseLegacy(line, id string) model.Fact {
	text := Clean(StripBullet(line))
	if text == "" {
		text = "(empty)"
	}
	return model.Fact{ID: id, Type: model.FactArchive, Importance: model.ImportanceLow, Text: text}
}

// StripBullet removes a leading "- " marker and surrounding whitespace.
func StripBullet(line string) string {
	return strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
}

// leadingTags consumes [k:v] tokens from the start of s.
func leadingTags(s string) (map[string]string, string) {
	tags := map[string]string{}
	for {
		m := tagRe.FindStringSubmatchIndex(s)
		if m == nil {
			return tags, s
		}
		tags[s[m[2]:m[3]]] = s[m[4]:m[5]]
		s = s[m[1]:]
	}
}

func unescape(text string) string {
	if strings.HasPrefix(text, `\`) {
		return text[1:]
	}
	return text
}
