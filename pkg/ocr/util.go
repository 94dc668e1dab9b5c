package ocr

import (
	"strings"
	"unicode"
)

// snippet returns a shortened version of text for logging.
func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// normalizeLine collapses inner whitespace and strips control characters.
func normalizeLine(t string) string {
	t = strings.Map(func(r rune) rune {
		if r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, t)
	return strings.Join(strings.Fields(t), " ")
}

// SplitLines turns raw engine text into normalized, non-empty lines.
func SplitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if n := normalizeLine(l); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// linesFromText builds Lines with a uniform confidence.
func linesFromText(text string, conf float64) []Line {
	var out []Line
	for _, l := range SplitLines(text) {
		out = append(out, Line{Text: l, Confidence: conf})
	}
	return out
}

// scoreLines sums the confidence of lines carrying at least two
// alphanumeric characters, so noise fragments do not win a pass.
func scoreLines(lines []Line) float64 {
	var s float64
	for _, l := range lines {
		n := 0
		for _, r := range l.Text {
			if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				n++
			}
		}
		if n >= 2 {
			s += l.Confidence
		}
	}
	return s
}
