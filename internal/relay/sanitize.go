package relay

import "strings"

// Truncate enforces the platform's character budget, counted in runes.
// Text within budget is returned trimmed and unchanged; longer text is cut
// to leave room for the marker, trimmed of trailing whitespace at the cut
// point, and suffixed with the marker. Deterministic, no side effects.
func Truncate(text, marker string, limit int) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= limit {
		return trimmed
	}

	cut := limit - len([]rune(marker))
	if cut < 0 {
		cut = 0
	}
	head := strings.TrimRight(string(runes[:cut]), " \t\r\n")
	return head + marker
}
