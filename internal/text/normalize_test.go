package text

import (
	"math"
	"testing"
)

func TestNormalizeComposesAndCleans(t *testing.T) {
	input := "Cafe\u0301 \u201cquoted\u201d\u2014dash\u2026\u200b end"
	got := Normalize(input)
	want := "Café \"quoted\"-dash... end"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNormalizeParagraphsAndPageNumbers(t *testing.T) {
	input := "First line\r\nwraps here.\r\n\r\n  12  \r\n\r\nSecond\tparagraph.\n\nPage 7\nThird."
	got := Normalize(input)
	want := "First line wraps here.\n\nSecond paragraph.\n\nThird."
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	if got := Normalize(" \n\t\n "); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

func TestCountSentences(t *testing.T) {
	cases := map[string]int{
		"One.":                          1,
		"One. Two! Three?":              3,
		"No terminal":                   1,
		"First para.\n\nSecond. Third.": 3,
		"Pi is 3.14 here.":              1,
		"":                              0,
	}
	for input, want := range cases {
		if got := CountSentences(input); got != want {
			t.Errorf("CountSentences(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestEstimateDurationScalesWithVoice(t *testing.T) {
	text := "one two three four five. six seven eight nine ten."
	base := EstimateDuration(text, 1, 0)
	if math.Abs(base-4) > 1e-9 {
		t.Fatalf("expected 4s for 10 words at 150 wpm, got %v", base)
	}
	slow := EstimateDuration(text, 1.5, 0)
	if math.Abs(slow-6) > 1e-9 {
		t.Fatalf("expected 6s at length scale 1.5, got %v", slow)
	}
	withSilence := EstimateDuration(text, 1, 0.5)
	if math.Abs(withSilence-5) > 1e-9 {
		t.Fatalf("expected two sentences to add 1s of silence, got %v", withSilence)
	}
}
