package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalExpression(t *testing.T) {
	ctx := ResolutionContext{Intent: "build", Scope: "frontend", NeedsBackend: true, HasFiles: false}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"string equality", `scope === "frontend"`, true},
		{"string inequality", `scope !== "backend"`, true},
		{"single quotes", `intent === 'build'`, true},
		{"boolean variable", `needsBackend`, true},
		{"negation", `!hasFiles`, true},
		{"and", `needsBackend && intent === "build"`, true},
		{"and short", `needsBackend && hasFiles`, false},
		{"or", `hasFiles || needsBackend`, true},
		{"parentheses", `!(hasFiles || scope === "backend")`, true},
		{"literal true", `true`, true},
		{"literal false", `false`, false},
		{"cross-type comparison is false", `scope === true`, false},
		{"precedence and over or", `hasFiles && hasFiles || needsBackend`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalExpression(tt.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalExpression_Errors(t *testing.T) {
	ctx := ResolutionContext{}

	tests := []struct {
		name string
		expr string
	}{
		{"unknown identifier", `bogus === "x"`},
		{"double equals", `scope == "x"`},
		{"unterminated string", `scope === "x`},
		{"bare string result", `"frontend"`},
		{"trailing token", `needsBackend needsBackend`},
		{"missing paren", `(needsBackend`},
		{"non-boolean operand", `"a" && needsBackend`},
		{"single ampersand", `needsBackend & hasFiles`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EvalExpression(tt.expr, ctx)
			assert.Error(t, err)
		})
	}
}

func TestEvalExpression_ShortCircuit(t *testing.T) {
	ctx := ResolutionContext{NeedsBackend: true, HasFiles: false}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"true or skips bad identifier", `true || bogus`, true},
		{"true or skips bad operand", `needsBackend || "not-a-bool"`, true},
		{"false and skips bad identifier", `hasFiles && bogus`, false},
		{"false and skips bad operand", `false && "not-a-bool"`, false},
		{"decided parenthesized branch", `(true || bogus) && needsBackend`, true},
		{"chained or stays decided", `true || bogus || alsoBogus`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalExpression(tt.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	// The undecided side still evaluates, errors included.
	_, err := EvalExpression(`false || bogus`, ctx)
	assert.Error(t, err)
	_, err = EvalExpression(`true && bogus`, ctx)
	assert.Error(t, err)

	// Dead branches are still parsed: syntax errors always surface.
	_, err = EvalExpression(`true || (needsBackend`, ctx)
	assert.Error(t, err)
}

func TestExtractIdentifiers(t *testing.T) {
	ids := ExtractIdentifiers(`scope === "frontend" && needsBackend || !eval`)
	assert.Equal(t, []string{"scope", "needsBackend", "eval"}, ids)

	assert.Empty(t, ExtractIdentifiers(`true && false`))
}

func TestEvalPredefined(t *testing.T) {
	full := ResolutionContext{Scope: "full", NeedsBackend: true, HasFiles: true}

	tests := []struct {
		id   string
		ctx  ResolutionContext
		want bool
	}{
		{PredefinedNeedsBackend, full, true},
		{PredefinedNeedsBackend, ResolutionContext{}, false},
		{PredefinedHasFiles, full, true},
		{PredefinedScopeFrontend, ResolutionContext{Scope: "frontend"}, true},
		{PredefinedScopeFrontend, full, true},
		{PredefinedScopeFrontend, ResolutionContext{Scope: "backend"}, false},
		{PredefinedScopeBackend, ResolutionContext{Scope: "backend"}, true},
		{PredefinedScopeBackend, full, true},
		{PredefinedScopeStyling, ResolutionContext{Scope: "styling"}, true},
		{PredefinedScopeStyling, ResolutionContext{Scope: "frontend"}, false},
	}

	for _, tt := range tests {
		got, err := EvalPredefined(tt.id, tt.ctx)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s scope=%q", tt.id, tt.ctx.Scope)
	}

	_, err := EvalPredefined("nope", full)
	assert.Error(t, err)
}
