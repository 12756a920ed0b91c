package relay

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/chatrelay/linedify/internal/config"
)

// shortFragmentLen is the length at or below which a snake_case-looking
// candidate is still kept: backends legitimately stream answers a few
// characters at a time, and an over-eager filter would starve the aggregator.
const shortFragmentLen = 3

// NoiseFilter decides which candidate payloads are real answer content.
// Dify occasionally leaks its internal event vocabulary into text fields,
// so the filter screens candidates against the configured literal lists and
// a couple of shape heuristics. The heuristics match another system's
// informal vocabulary and are deliberately kept as configuration-driven
// pattern checks rather than anything smarter.
type NoiseFilter struct {
	literals         map[string]struct{}
	maxEventTokenLen int
	minThoughtLen    int
}

// NewNoiseFilter compiles the filter vocabulary. The literal set is the
// union of the lifecycle and terminal event names.
func NewNoiseFilter(cfg config.FilterConfig) *NoiseFilter {
	f := &NoiseFilter{
		literals:         make(map[string]struct{}, len(cfg.LifecycleEvents)+len(cfg.TerminalEvents)),
		maxEventTokenLen: cfg.MaxEventTokenLen,
		minThoughtLen:    cfg.MinThoughtLen,
	}
	for _, name := range cfg.LifecycleEvents {
		f.literals[name] = struct{}{}
	}
	for _, name := range cfg.TerminalEvents {
		f.literals[name] = struct{}{}
	}
	if f.maxEventTokenLen <= 0 {
		f.maxEventTokenLen = 32
	}
	if f.minThoughtLen <= 0 {
		f.minThoughtLen = 10
	}
	return f
}

// AcceptToken reports whether text qualifies as an answer fragment.
func (f *NoiseFilter) AcceptToken(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if _, leaked := f.literals[trimmed]; leaked {
		return false
	}
	if isUUIDShaped(trimmed) {
		return false
	}
	if f.looksLikeEventName(trimmed) {
		return false
	}
	return true
}

// AcceptThought reports whether a thought event qualifies as a fallback
// answer. Thoughts tied to tool execution describe machinery, not answers.
func (f *NoiseFilter) AcceptThought(text, tool string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || tool != "" {
		return false
	}
	if isUUIDShaped(trimmed) {
		return false
	}
	return len([]rune(trimmed)) >= f.minThoughtLen
}

// looksLikeEventName flags short all-lowercase snake_case strings, the shape
// of Dify's internal event names. Candidates at or below shortFragmentLen
// are always kept as possible streamed fragments. Known ambiguity: a real
// answer token like "snake_case" is indistinguishable from a leaked event
// name at this layer.
func (f *NoiseFilter) looksLikeEventName(s string) bool {
	n := len([]rune(s))
	if n <= shortFragmentLen || n > f.maxEventTokenLen {
		return false
	}
	if !strings.Contains(s, "_") {
		return false
	}
	for _, r := range s {
		if r == '_' || unicode.IsDigit(r) {
			continue
		}
		if !unicode.IsLower(r) {
			return false
		}
	}
	return true
}

// isUUIDShaped matches canonical 36-character UUID strings.
func isUUIDShaped(s string) bool {
	if len(s) != 36 {
		return false
	}
	return uuid.Validate(s) == nil
}
