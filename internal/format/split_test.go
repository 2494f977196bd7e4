package format

import (
	"strings"
	"testing"

	"github.com/BTreeMap/WhatsBridge/internal/models"
)

func TestSplitShortTextSingleSegment(t *testing.T) {
	segments := Split("a short reply.", 4096)
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	if segments[0].Text != "a short reply." {
		t.Errorf("expected text unchanged, got %q", segments[0].Text)
	}
	if segments[0].Ordinal != 0 {
		t.Errorf("expected ordinal 0, got %d", segments[0].Ordinal)
	}
}

func TestSplitLongTextProperties(t *testing.T) {
	const maxLen = 100
	sentence := "This is a fairly ordinary sentence that keeps going for a while. "
	text := strings.Repeat(sentence, 20)

	segments := Split(text, maxLen)
	if len(segments) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(segments))
	}

	var rebuilt strings.Builder
	for i, seg := range segments {
		if seg.Ordinal != i {
			t.Errorf("segment %d has ordinal %d", i, seg.Ordinal)
		}
		if seg.Text == "" {
			t.Errorf("segment %d is empty", i)
		}
		if n := len([]rune(seg.Text)); n > maxLen {
			t.Errorf("segment %d has %d runes, max %d", i, n, maxLen)
		}
		rebuilt.WriteString(seg.Text)
	}
	if rebuilt.String() != text {
		t.Error("concatenated segments do not reproduce the input")
	}
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	// A period sits inside the look-back window; the cut should land after it.
	text := strings.Repeat("x", 90) + ". " + strings.Repeat("y", 50)
	segments := Split(text, 100)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if !strings.HasSuffix(segments[0].Text, ".") {
		t.Errorf("expected first segment to end at sentence boundary, got %q suffix", segments[0].Text[len(segments[0].Text)-5:])
	}
}

func TestSplitFallsBackToWhitespace(t *testing.T) {
	// No sentence boundary anywhere; a space sits before the look-back window.
	text := strings.Repeat("x", 60) + " " + strings.Repeat("y", 60)
	segments := Split(text, 100)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if !strings.HasSuffix(segments[0].Text, " ") {
		t.Error("expected first segment to end at whitespace")
	}
	if segments[1].Text != strings.Repeat("y", 60) {
		t.Errorf("unexpected second segment %q", segments[1].Text)
	}
}

func TestSplitHardCutSingleToken(t *testing.T) {
	text := strings.Repeat("a", 250)
	segments := Split(text, 100)
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	for i, want := range []int{100, 100, 50} {
		if n := len([]rune(segments[i].Text)); n != want {
			t.Errorf("segment %d has %d runes, want %d", i, n, want)
		}
	}
}

func TestSplitNeverSplitsRunes(t *testing.T) {
	text := strings.Repeat("ع", 150)
	segments := Split(text, 100)
	var rebuilt strings.Builder
	for _, seg := range segments {
		if !strings.HasPrefix(seg.Text, "ع") {
			t.Errorf("segment starts mid-rune: %q", seg.Text[:4])
		}
		rebuilt.WriteString(seg.Text)
	}
	if rebuilt.String() != text {
		t.Error("concatenated segments do not reproduce the input")
	}
}

func TestSplitDirectionPerSegment(t *testing.T) {
	arabic := strings.Repeat("سلام عليكم ", 12)
	english := strings.Repeat("hello there ", 12)
	segments := Split(arabic+"\n"+english, 140)
	if len(segments) < 2 {
		t.Fatalf("expected at least 2 segments, got %d", len(segments))
	}
	if segments[0].Direction != models.DirectionRTL {
		t.Errorf("expected first segment RTL, got %q", segments[0].Direction)
	}
	if segments[len(segments)-1].Direction != models.DirectionLTR {
		t.Errorf("expected last segment LTR, got %q", segments[len(segments)-1].Direction)
	}
}

func TestSplitEmpty(t *testing.T) {
	if segments := Split("", 100); segments != nil {
		t.Errorf("expected nil for empty input, got %v", segments)
	}
}

func TestFormatAndSplitEmptyInput(t *testing.T) {
	if segments := FormatAndSplit("", 4096); segments != nil {
		t.Errorf("expected nil for empty input, got %v", segments)
	}
}

func TestFormatAndSplitWhitespaceOnlyFallback(t *testing.T) {
	segments := FormatAndSplit("   \n\t  ", 4096)
	if len(segments) != 1 {
		t.Fatalf("expected 1 fallback segment, got %d", len(segments))
	}
	if segments[0].Text != FallbackNotice {
		t.Errorf("expected fallback notice, got %q", segments[0].Text)
	}
}

func TestFormatAndSplitFormatsBeforeSplitting(t *testing.T) {
	segments := FormatAndSplit("**bold** and *italic*", 4096)
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	want := "*bold* and _italic_"
	if segments[0].Text != want {
		t.Errorf("expected %q, got %q", want, segments[0].Text)
	}
}
