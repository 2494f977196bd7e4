// Package format converts backend markdown replies into WhatsApp-ready text
// and splits them into bounded, direction-tagged message segments.
//
// All functions are pure; the orchestrator owns delivery.
package format

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/WhatsBridge/internal/models"
)

// rtlThreshold is the proportion of right-to-left script runes above which a
// text is tagged RTL.
const rtlThreshold = 0.3

// Format rewrites conventional markdown into WhatsApp's markdown dialect:
// *italic* becomes _italic_, **bold** becomes *bold*, headers become
// *_bold italic_* lines, and nested list markers are normalized.
func Format(text string) string {
	text = convertItalic(text)
	text = convertBold(text)
	text = convertHeaders(text)
	return formatNestedLists(text)
}

// italicPattern matches a markdown italic span. Spans adjacent to another
// marker character belong to bold/underline syntax and are skipped by
// convertItalic.
var italicPattern = regexp.MustCompile(`\*[^*_\n]+\*`)

func convertItalic(text string) string {
	matches := italicPattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if (start > 0 && isMarker(text[start-1])) || (end < len(text) && isMarker(text[end])) {
			b.WriteString(text[last:end])
			last = end
			continue
		}
		b.WriteString(text[last:start])
		b.WriteByte('_')
		b.WriteString(text[start+1 : end-1])
		b.WriteByte('_')
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

func isMarker(c byte) bool {
	return c == '*' || c == '_'
}

func convertBold(text string) string {
	return strings.ReplaceAll(text, "**", "*")
}

// headerPattern matches a markdown header line; the title's own emphasis
// markers are stripped before rewrapping.
var headerPattern = regexp.MustCompile(`^#{1,6} +(.+)$`)

// convertHeaders turns "# Title" lines into "*_Title_*" followed by a blank
// line, WhatsApp's closest visual equivalent of a header.
func convertHeaders(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	for i, line := range lines {
		m := headerPattern.FindStringSubmatch(line)
		if m == nil {
			out = append(out, line)
			continue
		}
		title := strings.Trim(m[1], "*_")
		out = append(out, "*_"+title+"_*")
		if i+1 < len(lines) && lines[i+1] != "" {
			out = append(out, "")
		}
	}
	return strings.Join(out, "\n")
}

var (
	leadingIndentPattern = regexp.MustCompile(`^(\s+)`)
	numberedItemPattern  = regexp.MustCompile(`^\s*\d+\.\s`)
	bulletItemPattern    = regexp.MustCompile(`^\s*[*-]\s`)
	numberedRewrite      = regexp.MustCompile(`^(\s*)(\d+)\. `)
	bulletRewrite        = regexp.MustCompile(`^(\s*)[*-] `)
)

// formatNestedLists rewrites nested list markers ("  1. x" -> "  1 - x",
// "  - x" -> "  -- x"). Top-level list items keep their original markers,
// which WhatsApp renders natively.
func formatNestedLists(text string) string {
	lines := strings.Split(text, "\n")
	inNested := false
	nestedIndent := 0
	for i, line := range lines {
		indent := 0
		if strings.TrimSpace(line) != "" {
			if m := leadingIndentPattern.FindString(line); m != "" {
				indent = len(m)
			}
		}
		isNumbered := numberedItemPattern.MatchString(line)
		isBullet := bulletItemPattern.MatchString(line)

		switch {
		case (isNumbered || isBullet) && indent > 0:
			if !inNested {
				inNested = true
				nestedIndent = indent
			}
			if isNumbered {
				lines[i] = numberedRewrite.ReplaceAllString(line, "$1$2 - ")
			} else {
				lines[i] = bulletRewrite.ReplaceAllString(line, "$1-- ")
			}
		case inNested && indent < nestedIndent:
			inNested = false
		}
	}
	return strings.Join(lines, "\n")
}

// Direction reports the advisory rendering direction of text: RTL when more
// than 30% of its runes belong to Arabic or Hebrew script ranges.
func Direction(text string) models.Direction {
	if text == "" {
		return models.DirectionLTR
	}
	total := 0
	rtl := 0
	for _, r := range text {
		total++
		if isRTLRune(r) {
			rtl++
		}
	}
	if float64(rtl)/float64(total) > rtlThreshold {
		return models.DirectionRTL
	}
	return models.DirectionLTR
}

func isRTLRune(r rune) bool {
	switch {
	case r >= 0x0590 && r <= 0x05FF: // Hebrew
		return true
	case r >= 0x0600 && r <= 0x06FF: // Arabic
		return true
	case r >= 0x0750 && r <= 0x077F: // Arabic Supplement
		return true
	case r >= 0x08A0 && r <= 0x08FF: // Arabic Extended-A
		return true
	case r >= 0xFB50 && r <= 0xFDFF: // Arabic Presentation Forms-A
		return true
	case r >= 0xFE70 && r <= 0xFEFF: // Arabic Presentation Forms-B
		return true
	}
	return false
}
