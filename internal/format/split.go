package format

import (
	"strings"
	"unicode"

	"github.com/BTreeMap/WhatsBridge/internal/models"
)

// lookBackFraction bounds how far before the segment limit the splitter
// searches for a sentence boundary before settling for whitespace.
const lookBackFraction = 0.2

// FallbackNotice is sent when a backend reply collapses to whitespace after
// markdown conversion.
const FallbackNotice = "Sorry, we couldn't process your message. Please try again later."

// FormatAndSplit converts a raw backend reply into ordered, bounded,
// direction-tagged segments ready for delivery. Empty input yields no
// segments; input that is only whitespace after markdown conversion yields a
// single fallback notice.
func FormatAndSplit(raw string, maxLen int) []models.OutboundSegment {
	if raw == "" {
		return nil
	}
	formatted := Format(raw)
	if strings.TrimSpace(formatted) == "" {
		return []models.OutboundSegment{{Ordinal: 0, Text: FallbackNotice, Direction: models.DirectionLTR}}
	}
	return Split(formatted, maxLen)
}

// Split chunks text into segments of at most maxLen runes. Cuts prefer a
// sentence boundary (., !, ?, newline) within the last 20% of the limit,
// then the whitespace nearest the limit, then a hard cut at the limit.
// Segments are contiguous: concatenating their text reproduces the input.
// No segment is ever empty and no rune is ever split.
func Split(text string, maxLen int) []models.OutboundSegment {
	if text == "" || maxLen <= 0 {
		return nil
	}
	runes := []rune(text)
	var segments []models.OutboundSegment
	for len(runes) > 0 {
		n := len(runes)
		if n > maxLen {
			n = cutPoint(runes, maxLen)
		}
		seg := string(runes[:n])
		segments = append(segments, models.OutboundSegment{
			Ordinal:   len(segments),
			Text:      seg,
			Direction: Direction(seg),
		})
		runes = runes[n:]
	}
	return segments
}

// cutPoint picks where to cut a window of maxLen runes. The boundary rune is
// kept at the end of the leading segment so nothing is lost.
func cutPoint(runes []rune, maxLen int) int {
	lookBack := int(float64(maxLen) * lookBackFraction)
	if lookBack < 1 {
		lookBack = 1
	}
	floor := maxLen - lookBack

	// Sentence boundary within the look-back window.
	for i := maxLen - 1; i >= floor; i-- {
		if isSentenceBoundary(runes[i]) {
			return i + 1
		}
	}
	// Whitespace nearest the limit, anywhere in the window.
	for i := maxLen - 1; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	// Pathological single token: hard cut at the limit.
	return maxLen
}

func isSentenceBoundary(r rune) bool {
	switch r {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}
