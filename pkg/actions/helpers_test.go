package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTestOutput(t *testing.T) {
	t.Run("tap lines", func(t *testing.T) {
		out := `
TAP version 13
ok 1 renders the header
not ok 2 - saves the form
ok 3 routes to home
1..3
`
		results := parseTestOutput(out)
		require.Len(t, results, 3)
		assert.Equal(t, testResult{name: "renders the header", passed: true}, results[0])
		assert.Equal(t, testResult{name: "saves the form", passed: false}, results[1])
		assert.True(t, results[2].passed)
	})

	t.Run("check marks", func(t *testing.T) {
		out := "  ✓ adds two numbers\n  ✗ divides by zero\n  ✕ handles overflow"
		results := parseTestOutput(out)
		require.Len(t, results, 3)
		assert.Equal(t, "adds two numbers", results[0].name)
		assert.True(t, results[0].passed)
		assert.Equal(t, "divides by zero", results[1].name)
		assert.False(t, results[1].passed)
		assert.False(t, results[2].passed)
	})

	t.Run("pass fail prefixes", func(t *testing.T) {
		out := "PASS src/app.test.ts\nFAIL src/form.test.ts"
		results := parseTestOutput(out)
		require.Len(t, results, 2)
		assert.True(t, results[0].passed)
		assert.False(t, results[1].passed)
		assert.Equal(t, "src/form.test.ts", results[1].name)
	})

	t.Run("noise ignored", func(t *testing.T) {
		out := "compiling...\nwebpack built in 300ms\n\ndone"
		assert.Empty(t, parseTestOutput(out))
	})
}

func TestTally(t *testing.T) {
	passed, failures := tally([]testResult{
		{name: "a", passed: true},
		{name: "b", passed: false, message: "boom"},
		{name: "c", passed: true},
	})
	assert.Equal(t, 2, passed)
	require.Len(t, failures, 1)
	assert.Equal(t, "b", failures[0].Name)
	assert.Equal(t, "boom", failures[0].Message)
}

func TestUniqueErrorLines(t *testing.T) {
	out := `
src/App.tsx(3,5): error TS2304: Cannot find name 'foo'.
    at Object.<anonymous> (src/App.tsx:3:5)
src/App.tsx(3,5): error TS2304: Cannot find name 'foo'.
src/Form.tsx(9,1): error TS1005: ';' expected.

src/Other.tsx(1,1): error TS2307: Cannot find module './x'.
`
	lines := uniqueErrorLines(out, 10)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "TS2304")
	assert.Contains(t, lines[1], "TS1005")

	capped := uniqueErrorLines(out, 2)
	assert.Len(t, capped, 2)
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\nplain\n```", "plain"},
		{"surrounding whitespace", "  ```json\n{}\n```  ", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFence(tt.in))
		})
	}
}

func TestFirstLines(t *testing.T) {
	assert.Equal(t, "a\nb", firstLines("a\nb\nc\nd", 2))
	assert.Equal(t, "a", firstLines("a", 5))
	assert.Equal(t, "a\nb", firstLines("\na\nb\n", 3))
}

func TestTapName(t *testing.T) {
	assert.Equal(t, "renders", tapName("1 renders"))
	assert.Equal(t, "saves the form", tapName("2 - saves the form"))
	assert.Equal(t, "no number here", tapName("no number here"))
}
