package llm

import "strings"

const (
	toolCallOpen  = "<tool_call>"
	toolCallClose = "</tool_call>"
)

// ToolCallScanner extracts <tool_call>{json}</tool_call> blocks from a text
// stream. Deltas may split tags at any byte boundary; the scanner holds back
// the smallest suffix that could still become a tag, so surfaced text never
// contains tag fragments and tool bodies are only released once complete.
type ToolCallScanner struct {
	pending string
	inCall  bool
}

// NewToolCallScanner creates a ToolCallScanner.
func NewToolCallScanner() *ToolCallScanner {
	return &ToolCallScanner{}
}

// Feed consumes one stream delta. It returns text safe to surface to the
// client and the bodies of any tool calls completed by this delta, in order.
func (s *ToolCallScanner) Feed(delta string) (text string, calls []string) {
	s.pending += delta
	var out strings.Builder

	for {
		if s.inCall {
			idx := strings.Index(s.pending, toolCallClose)
			if idx < 0 {
				return out.String(), calls
			}
			calls = append(calls, strings.TrimSpace(s.pending[:idx]))
			s.pending = s.pending[idx+len(toolCallClose):]
			s.inCall = false
			continue
		}

		idx := strings.Index(s.pending, toolCallOpen)
		if idx >= 0 {
			out.WriteString(s.pending[:idx])
			s.pending = s.pending[idx+len(toolCallOpen):]
			s.inCall = true
			continue
		}

		hold := tagHoldback(s.pending, toolCallOpen)
		out.WriteString(s.pending[:len(s.pending)-hold])
		s.pending = s.pending[len(s.pending)-hold:]
		return out.String(), calls
	}
}

// Flush returns whatever is still buffered at stream end. An unterminated
// tool call is surfaced as raw text, open tag included, so nothing is lost.
func (s *ToolCallScanner) Flush() string {
	rest := s.pending
	if s.inCall {
		rest = toolCallOpen + rest
	}
	s.pending = ""
	s.inCall = false
	return rest
}

// tagHoldback returns the length of the longest suffix of s that is a
// proper prefix of tag.
func tagHoldback(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(tag, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}
