package flow

import (
	"fmt"
	"strings"
	"unicode"
)

// AllowedVariables is the closed variable set condition expressions may
// reference.
var AllowedVariables = map[string]bool{
	"intent":       true,
	"scope":        true,
	"needsBackend": true,
	"hasFiles":     true,
}

// DangerousIdentifiers are rejected at validation time regardless of
// context. The evaluator never executes host code, so this is defense in
// depth against templates written for other runtimes.
var DangerousIdentifiers = []string{
	"eval", "Function", "require", "import", "process",
	"window", "document", "globalThis", "__proto__",
}

// ResolutionContext is the runtime input to condition evaluation and prompt
// rendering.
type ResolutionContext struct {
	Intent       string
	Scope        string
	NeedsBackend bool
	HasFiles     bool
	UserMessage  string
}

// EvalExpression evaluates a sandboxed boolean expression over the four
// allowed variables. Supported syntax: &&, ||, !, ===, !==, parentheses,
// string literals (single or double quoted), true/false.
func EvalExpression(expr string, ctx ResolutionContext) (bool, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return false, err
	}
	p := &exprParser{tokens: tokens, ctx: ctx}
	v, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.tokens) {
		return false, fmt.Errorf("unexpected token %q", p.tokens[p.pos].text)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression result is not boolean")
	}
	return b, nil
}

// ExtractIdentifiers returns every bare identifier in the expression, in
// appearance order. Used by the validator to enforce the allowed set.
func ExtractIdentifiers(expr string) []string {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil
	}
	var ids []string
	for _, t := range tokens {
		if t.kind == tokIdent && t.text != "true" && t.text != "false" {
			ids = append(ids, t.text)
		}
	}
	return ids
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokString
	tokOp // && || ! === !== ( )
)

type token struct {
	kind tokKind
	text string
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	runes := []rune(expr)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == ')':
			tokens = append(tokens, token{tokOp, string(r)})
			i++
		case r == '&' || r == '|':
			if i+1 >= len(runes) || runes[i+1] != r {
				return nil, fmt.Errorf("unexpected %q", string(r))
			}
			tokens = append(tokens, token{tokOp, string(r) + string(r)})
			i += 2
		case r == '!':
			if i+2 < len(runes) && runes[i+1] == '=' && runes[i+2] == '=' {
				tokens = append(tokens, token{tokOp, "!=="})
				i += 3
			} else {
				tokens = append(tokens, token{tokOp, "!"})
				i++
			}
		case r == '=':
			if i+2 < len(runes) && runes[i+1] == '=' && runes[i+2] == '=' {
				tokens = append(tokens, token{tokOp, "==="})
				i += 3
			} else {
				return nil, fmt.Errorf("unexpected %q (only === is supported)", string(r))
			}
		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{tokString, string(runes[i+1 : j])})
			i = j + 1
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			tokens = append(tokens, token{tokIdent, string(runes[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", string(r))
		}
	}
	return tokens, nil
}

type exprParser struct {
	tokens []token
	pos    int
	ctx    ResolutionContext
	// dead marks a branch whose value cannot affect the result (the other
	// side of a decided && or ||). Dead branches are parsed for syntax only:
	// evaluation and type errors are suppressed, matching short-circuit
	// semantics.
	dead bool
}

func (p *exprParser) peek() (token, bool) {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos], true
	}
	return token{}, false
}

func (p *exprParser) acceptOp(op string) bool {
	if t, ok := p.peek(); ok && t.kind == tokOp && t.text == op {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("||") {
		lb, lok := left.(bool)
		if !lok && !p.dead {
			return nil, fmt.Errorf("|| requires boolean operands")
		}
		// A true left side decides the result; short-circuit the right.
		wasDead := p.dead
		if lb {
			p.dead = true
		}
		right, err := p.parseAnd()
		p.dead = wasDead
		if err != nil {
			return nil, err
		}
		if lb {
			left = true
			continue
		}
		rb, rok := right.(bool)
		if !rok && !p.dead {
			return nil, fmt.Errorf("|| requires boolean operands")
		}
		left = rb
	}
	return left, nil
}

func (p *exprParser) parseAnd() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("&&") {
		lb, lok := left.(bool)
		if !lok && !p.dead {
			return nil, fmt.Errorf("&& requires boolean operands")
		}
		// A false left side decides the result; short-circuit the right.
		wasDead := p.dead
		if !lb {
			p.dead = true
		}
		right, err := p.parseUnary()
		p.dead = wasDead
		if err != nil {
			return nil, err
		}
		if lok && !lb {
			left = false
			continue
		}
		rb, rok := right.(bool)
		if !rok && !p.dead {
			return nil, fmt.Errorf("&& requires boolean operands")
		}
		left = rb
	}
	return left, nil
}

func (p *exprParser) parseUnary() (any, error) {
	if p.acceptOp("!") {
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			if p.dead {
				return false, nil
			}
			return nil, fmt.Errorf("! requires a boolean operand")
		}
		return !b, nil
	}
	return p.parseComparison()
}

func (p *exprParser) parseComparison() (any, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.acceptOp("===") {
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return valuesEqual(left, right), nil
	}
	if p.acceptOp("!==") {
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return !valuesEqual(left, right), nil
	}
	return left, nil
}

func (p *exprParser) parsePrimary() (any, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	switch t.kind {
	case tokOp:
		if t.text == "(" {
			p.pos++
			v, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.acceptOp(")") {
				return nil, fmt.Errorf("missing closing parenthesis")
			}
			return v, nil
		}
		return nil, fmt.Errorf("unexpected operator %q", t.text)
	case tokString:
		p.pos++
		return t.text, nil
	case tokIdent:
		p.pos++
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "intent":
			return p.ctx.Intent, nil
		case "scope":
			return p.ctx.Scope, nil
		case "needsBackend":
			return p.ctx.NeedsBackend, nil
		case "hasFiles":
			return p.ctx.HasFiles, nil
		default:
			if p.dead {
				return false, nil
			}
			return nil, fmt.Errorf("unknown identifier %q", t.text)
		}
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

// EvalPredefined evaluates a predefined condition id against the context.
func EvalPredefined(id string, ctx ResolutionContext) (bool, error) {
	switch id {
	case PredefinedNeedsBackend:
		return ctx.NeedsBackend, nil
	case PredefinedHasFiles:
		return ctx.HasFiles, nil
	case PredefinedScopeFrontend:
		return ctx.Scope == "frontend" || ctx.Scope == "full", nil
	case PredefinedScopeBackend:
		return ctx.Scope == "backend" || ctx.Scope == "full", nil
	case PredefinedScopeStyling:
		return ctx.Scope == "styling" || ctx.Scope == "full", nil
	}
	return false, fmt.Errorf("unknown predefined condition %q", id)
}

// renderTemplate substitutes {{userMessage}} in an input template.
func renderTemplate(tmpl string, ctx ResolutionContext) string {
	if tmpl == "" {
		return ctx.UserMessage
	}
	return strings.ReplaceAll(tmpl, "{{userMessage}}", ctx.UserMessage)
}
