package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallScanner_PlainText(t *testing.T) {
	s := NewToolCallScanner()
	text, calls := s.Feed("hello world")
	assert.Equal(t, "hello world", text)
	assert.Empty(t, calls)
	assert.Empty(t, s.Flush())
}

func TestToolCallScanner_SingleCall(t *testing.T) {
	s := NewToolCallScanner()
	text, calls := s.Feed(`before <tool_call>{"tool":"run_command"}</tool_call> after`)
	assert.Equal(t, "before ", text)
	require.Len(t, calls, 1)
	assert.Equal(t, `{"tool":"run_command"}`, calls[0])
	assert.Equal(t, " after", s.Flush())
}

func TestToolCallScanner_SplitAcrossDeltas(t *testing.T) {
	s := NewToolCallScanner()

	var text string
	var calls []string
	// The open tag is split mid-tag, the body over two deltas, the close tag
	// byte by byte at the boundary.
	for _, delta := range []string{"say <to", "ol_call>{\"tool\":", "\"edit\"}</to", "ol_call> done"} {
		tx, cs := s.Feed(delta)
		text += tx
		calls = append(calls, cs...)
	}
	text += s.Flush()

	assert.Equal(t, "say  done", text)
	require.Len(t, calls, 1)
	assert.Equal(t, `{"tool":"edit"}`, calls[0])
}

func TestToolCallScanner_HoldsBackTagPrefix(t *testing.T) {
	s := NewToolCallScanner()

	// "<tool" could still become an open tag, so it must not surface yet.
	text, calls := s.Feed("abc<tool")
	assert.Equal(t, "abc", text)
	assert.Empty(t, calls)

	// A non-tag continuation releases the held prefix.
	text, _ = s.Feed("bar ")
	assert.Equal(t, "<toolbar ", text)
}

func TestToolCallScanner_AngleBracketNotATag(t *testing.T) {
	s := NewToolCallScanner()
	text, calls := s.Feed("1 < 2 and 2 > 1")
	text += s.Flush()
	assert.Equal(t, "1 < 2 and 2 > 1", text)
	assert.Empty(t, calls)
}

func TestToolCallScanner_MultipleCallsInOneDelta(t *testing.T) {
	s := NewToolCallScanner()
	text, calls := s.Feed(`<tool_call>{"a":1}</tool_call>mid<tool_call>{"b":2}</tool_call>`)
	assert.Equal(t, "mid", text)
	require.Len(t, calls, 2)
	assert.Equal(t, `{"a":1}`, calls[0])
	assert.Equal(t, `{"b":2}`, calls[1])
}

func TestToolCallScanner_BodyWhitespaceTrimmed(t *testing.T) {
	s := NewToolCallScanner()
	_, calls := s.Feed("<tool_call>\n  {\"tool\":\"x\"}\n</tool_call>")
	require.Len(t, calls, 1)
	assert.Equal(t, `{"tool":"x"}`, calls[0])
}

func TestToolCallScanner_FlushUnterminatedCall(t *testing.T) {
	s := NewToolCallScanner()
	text, calls := s.Feed(`ok <tool_call>{"tool":"run`)
	assert.Equal(t, "ok ", text)
	assert.Empty(t, calls)

	// Stream ended mid-call; the open tag comes back so nothing is lost.
	assert.Equal(t, `<tool_call>{"tool":"run`, s.Flush())

	// The scanner is reusable after a flush.
	text, _ = s.Feed("fresh")
	assert.Equal(t, "fresh", text)
}

func TestTagHoldback(t *testing.T) {
	tests := []struct {
		s    string
		want int
	}{
		{"", 0},
		{"hello", 0},
		{"hello<", 1},
		{"hello<tool", 5},
		{"hello<tool_call", 10},
		// A full tag is found by Index, never held back.
		{"<tool_call>", 0},
		{"<x<", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tagHoldback(tt.s, toolCallOpen), "suffix of %q", tt.s)
	}
}
