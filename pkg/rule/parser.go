package rule

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tagcheck/tagcheck/pkg/condition"
	"github.com/tagcheck/tagcheck/pkg/types"
)

// Parse reads rules in text syntax:
//
//	private rule suppression_rule : noise {
//	    meta:
//	        description = "Documentation files"
//	    condition:
//	        file_name matches /(^|\/)README\.md$/i
//	}
//
// Rules that parse are returned even when others fail; the failures are
// reported as LoadErrors. file is only used for diagnostics.
func Parse(src []byte, file string) ([]*types.Rule, error) {
	toks, lexErr := lex(string(src))
	if lexErr != nil {
		line := 0
		var se *syntaxError
		if errors.As(lexErr, &se) {
			line = se.line
		}
		toks = append(toks, token{kind: tokEOF, line: line})
	}
	p := &parser{toks: toks, file: file, lexErr: lexErr}
	rules := p.parseFile()
	return rules, p.errs.OrNil()
}

type parser struct {
	toks   []token
	pos    int
	file   string
	lexErr error
	errs   LoadErrors
}

func (p *parser) cur() token { return p.toks[p.pos] }

func (p *parser) peek(off int) token {
	if p.pos+off < len(p.toks) {
		return p.toks[p.pos+off]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) eof() bool { return p.cur().kind == tokEOF }

func (p *parser) isIdent(text string) bool {
	t := p.cur()
	return t.kind == tokIdent && t.text == text
}

func (p *parser) isPunct(text string) bool {
	t := p.cur()
	return t.kind == tokPunct && t.text == text
}

func (p *parser) fail(format string, args ...any) error {
	if p.eof() && p.lexErr != nil {
		return p.lexErr
	}
	return &syntaxError{line: p.cur().line, msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expectPunct(text string) error {
	if !p.isPunct(text) {
		return p.fail("expected %q, found %s", text, p.cur().describe())
	}
	p.pos++
	return nil
}

func (p *parser) expectIdent() (string, error) {
	t := p.cur()
	if t.kind != tokIdent {
		return "", p.fail("expected identifier, found %s", t.describe())
	}
	p.pos++
	return t.text, nil
}

func (p *parser) parseFile() []*types.Rule {
	var rules []*types.Rule
	for !p.eof() {
		start := p.pos
		r, err := p.parseRule()
		if err == nil {
			rules = append(rules, r)
			continue
		}

		le := &LoadError{Kind: KindSyntax, Source: types.Source{File: p.file}}
		if r != nil {
			le.RuleID = r.ID
			le.Source = r.Source
		}
		var typed *LoadError
		var se *syntaxError
		switch {
		case errors.As(err, &typed):
			typed.RuleID, typed.Source = le.RuleID, le.Source
			le = typed
		case errors.As(err, &se):
			le.Source.Line = se.line
			le.Detail = se.msg
		default:
			le.Err = err
		}
		p.errs = append(p.errs, le)
		if p.lexErr != nil && p.eof() {
			break
		}
		p.sync(start)
	}
	return rules
}

// sync skips to the next rule header after a failed rule.
func (p *parser) sync(start int) {
	if p.pos <= start {
		p.pos = start + 1
	}
	for !p.eof() {
		t := p.cur()
		if t.kind == tokIdent && (t.text == "rule" || t.text == "private" || t.text == "global") {
			if t.text == "rule" || p.peek(1).text == "rule" {
				return
			}
		}
		p.pos++
	}
}

// parseRule returns the partially built rule alongside an error so the
// caller can attribute the failure.
func (p *parser) parseRule() (*types.Rule, error) {
	r := &types.Rule{Source: types.Source{File: p.file, Line: p.cur().line}}

	var global *syntaxError
	for {
		if p.isIdent("private") {
			r.Private = true
			p.pos++
			continue
		}
		if p.isIdent("global") {
			global = &syntaxError{line: p.cur().line, msg: "global rules are not supported"}
			p.pos++
			continue
		}
		break
	}
	if !p.isIdent("rule") {
		return nil, p.fail("expected rule, found %s", p.cur().describe())
	}
	p.pos++

	id, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	r.ID = id

	if p.isPunct(":") {
		p.pos++
		for p.cur().kind == tokIdent {
			r.Tags = append(r.Tags, p.cur().text)
			p.pos++
		}
	}
	if err := p.expectPunct("{"); err != nil {
		return r, err
	}

	for !p.isPunct("}") {
		section, err := p.expectIdent()
		if err != nil {
			return r, err
		}
		if err := p.expectPunct(":"); err != nil {
			return r, err
		}
		switch section {
		case "meta":
			if err := p.parseMeta(r); err != nil {
				return r, err
			}
		case "strings", "patterns":
			if err := p.parsePatterns(r); err != nil {
				return r, err
			}
		case "condition":
			if r.Condition != nil {
				return r, p.fail("duplicate condition section")
			}
			cond, err := p.parseOr()
			if err != nil {
				return r, err
			}
			r.Condition = cond
		default:
			return r, p.fail("unknown section %q", section)
		}
	}
	p.pos++ // closing brace

	if r.Condition == nil {
		return r, &syntaxError{line: r.Source.Line, msg: "rule has no condition"}
	}
	if global != nil {
		return r, global
	}
	return r, nil
}

func (p *parser) parseMeta(r *types.Rule) error {
	for p.cur().kind == tokIdent && p.peek(1).kind == tokPunct && p.peek(1).text == "=" {
		key := p.cur().text
		p.pos += 2
		t := p.cur()
		var value string
		switch {
		case t.kind == tokString:
			value = t.text
		case t.kind == tokNumber:
			value = fmt.Sprint(t.num)
		case t.kind == tokIdent && (t.text == "true" || t.text == "false"):
			value = t.text
		case t.kind == tokPunct && t.text == "-" && p.peek(1).kind == tokNumber:
			p.pos++
			value = fmt.Sprint(-p.cur().num)
		default:
			return p.fail("invalid meta value %s", t.describe())
		}
		p.pos++
		r.Meta = append(r.Meta, types.MetaEntry{Key: key, Value: value})
	}
	return nil
}

var modifierNames = map[string]func(*types.Modifiers){
	"nocase":    func(m *types.Modifiers) { m.Nocase = true },
	"wide":      func(m *types.Modifiers) { m.Wide = true },
	"ascii":     func(m *types.Modifiers) { m.Ascii = true },
	"fullword":  func(m *types.Modifiers) { m.Fullword = true },
	"dotall":    func(m *types.Modifiers) { m.Dotall = true },
	"multiline": func(m *types.Modifiers) { m.Multiline = true },
}

func (p *parser) parsePatterns(r *types.Rule) error {
	for p.cur().kind == tokPattern {
		name := p.cur().text
		if name == "" || strings.HasSuffix(name, "*") {
			return p.fail("invalid pattern name $%s", name)
		}
		p.pos++
		if err := p.expectPunct("="); err != nil {
			return err
		}

		pat := types.Pattern{Name: name}
		t := p.cur()
		switch t.kind {
		case tokString:
			pat.Kind = types.KindText
			pat.Raw = t.text
		case tokHex:
			pat.Kind = types.KindHex
			pat.Raw = strings.Join(strings.Fields(t.text), " ")
		case tokRegex:
			pat.Kind = types.KindRegex
			pat.Raw = t.text
			pat.Modifiers.Nocase = strings.Contains(t.flags, "i")
			pat.Modifiers.Dotall = strings.Contains(t.flags, "s")
			pat.Modifiers.Multiline = strings.Contains(t.flags, "m")
		default:
			return p.fail("expected string, hex string or regular expression for $%s, found %s", name, t.describe())
		}
		p.pos++

		for p.cur().kind == tokIdent {
			set, ok := modifierNames[p.cur().text]
			if !ok || (p.peek(1).kind == tokPunct && p.peek(1).text == ":") {
				break
			}
			set(&pat.Modifiers)
			p.pos++
		}
		r.Patterns = append(r.Patterns, pat)
	}
	return nil
}

func (p *parser) parseOr() (condition.Node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []condition.Node{first}
	for p.isIdent("or") {
		p.pos++
		t, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return &condition.Or{Terms: terms}, nil
}

func (p *parser) parseAnd() (condition.Node, error) {
	first, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	terms := []condition.Node{first}
	for p.isIdent("and") {
		p.pos++
		t, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return &condition.And{Terms: terms}, nil
}

func (p *parser) parseNot() (condition.Node, error) {
	if p.isIdent("not") {
		p.pos++
		t, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &condition.Not{Term: t}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (condition.Node, error) {
	t := p.cur()
	switch t.kind {
	case tokPunct:
		if t.text != "(" {
			break
		}
		save := p.pos
		if n, err := p.parseCountComparison(); err == nil {
			return n, nil
		}
		p.pos = save + 1
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return n, nil

	case tokCount:
		return p.parseCountComparison()

	case tokPattern:
		if t.text == "" || strings.HasSuffix(t.text, "*") {
			return nil, p.fail("$%s is not a single pattern", t.text)
		}
		p.pos++
		return &condition.PatternRef{Name: t.text}, nil

	case tokNumber:
		return p.parseQuantifier()

	case tokIdent:
		next := p.peek(1)
		switch t.text {
		case "true", "false":
			p.pos++
			return &condition.Bool{Value: t.text == "true"}, nil
		case "all", "any", "none":
			if next.kind == tokIdent && next.text == "of" {
				return p.parseQuantifier()
			}
		case "sum", "max", "min":
			if next.kind == tokPunct && next.text == "(" {
				return p.parseCountComparison()
			}
		case "them", "of", "and", "or", "not":
			return nil, p.fail("unexpected %q", t.text)
		}
		if isFactOp(next) {
			return p.parseFact()
		}
		p.pos++
		return &condition.RuleRef{Name: t.text}, nil
	}
	return nil, p.fail("unexpected %s in condition", t.describe())
}

func (p *parser) parseQuantifier() (condition.Node, error) {
	q := &condition.Quantifier{}
	t := p.cur()
	switch {
	case t.kind == tokNumber:
		q.Kind = condition.QuantCount
		q.N = int(t.num)
		p.pos++
		if p.isPunct("%") {
			p.pos++
			q.Kind = condition.QuantPercent
			if q.N > 100 {
				return nil, p.fail("percentage %d exceeds 100", q.N)
			}
		}
	case t.text == "all":
		q.Kind = condition.QuantAll
		p.pos++
	case t.text == "any":
		q.Kind = condition.QuantAny
		p.pos++
	case t.text == "none":
		q.Kind = condition.QuantNone
		p.pos++
	}
	if !p.isIdent("of") {
		return nil, p.fail("expected \"of\", found %s", p.cur().describe())
	}
	p.pos++
	set, err := p.parseSet()
	if err != nil {
		return nil, err
	}
	q.Set = set
	return q, nil
}

func (p *parser) parseSet() (*condition.PatternSet, error) {
	if p.isIdent("them") {
		p.pos++
		return &condition.PatternSet{Them: true}, nil
	}
	if p.cur().kind == tokPattern {
		name := p.cur().text
		p.pos++
		return &condition.PatternSet{Items: []string{name}}, nil
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	set := &condition.PatternSet{}
	for {
		t := p.cur()
		if t.kind != tokPattern || t.text == "" {
			return nil, p.fail("expected pattern identifier, found %s", t.describe())
		}
		set.Items = append(set.Items, t.text)
		p.pos++
		if p.isPunct(",") {
			p.pos++
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return set, nil
}

// parseCountComparison parses "#a + #b > 50", "(#a + #b) > 50" and
// "max($x*) >= 3".
func (p *parser) parseCountComparison() (condition.Node, error) {
	cc := &condition.CountCompare{}
	if err := p.parseCountExpr(cc); err != nil {
		return nil, err
	}
	t := p.cur()
	op, ok := condition.ParseCompareOp(t.text)
	if t.kind != tokPunct || !ok {
		return nil, p.fail("expected comparison operator, found %s", t.describe())
	}
	p.pos++
	n, err := p.parseInt()
	if err != nil {
		return nil, err
	}
	cc.Op = op
	cc.Threshold = n
	return cc, nil
}

func (p *parser) parseCountExpr(cc *condition.CountCompare) error {
	t := p.cur()
	switch {
	case t.kind == tokPunct && t.text == "(":
		p.pos++
		if err := p.parseCountExpr(cc); err != nil {
			return err
		}
		return p.expectPunct(")")

	case t.kind == tokCount:
		cc.Agg = condition.AggSum
		cc.Summed = true
		cc.Set = &condition.PatternSet{Items: []string{t.text}}
		p.pos++
		for p.isPunct("+") {
			p.pos++
			if p.cur().kind != tokCount {
				return p.fail("expected pattern count after '+', found %s", p.cur().describe())
			}
			cc.Set.Items = append(cc.Set.Items, p.cur().text)
			p.pos++
		}
		return nil

	case t.kind == tokIdent && (t.text == "sum" || t.text == "max" || t.text == "min"):
		switch t.text {
		case "sum":
			cc.Agg = condition.AggSum
		case "max":
			cc.Agg = condition.AggMax
		case "min":
			cc.Agg = condition.AggMin
		}
		p.pos++
		if p.isIdent("them") {
			return p.fail("use %s(them)", t.text)
		}
		if !p.isPunct("(") {
			return p.fail("expected \"(\" after %s", t.text)
		}
		if p.peek(1).kind == tokIdent && p.peek(1).text == "them" {
			p.pos += 2
			cc.Set = &condition.PatternSet{Them: true}
			return p.expectPunct(")")
		}
		set, err := p.parseSet()
		if err != nil {
			return err
		}
		cc.Set = set
		return nil
	}
	return p.fail("expected count expression, found %s", t.describe())
}

func (p *parser) parseInt() (int64, error) {
	neg := false
	if p.isPunct("-") {
		neg = true
		p.pos++
	}
	t := p.cur()
	if t.kind != tokNumber {
		return 0, p.fail("expected number, found %s", t.describe())
	}
	p.pos++
	if neg {
		return -t.num, nil
	}
	return t.num, nil
}

var factKeywords = map[string]condition.FactOp{
	"matches":    condition.FactMatches,
	"contains":   condition.FactContains,
	"icontains":  condition.FactIContains,
	"startswith": condition.FactStartsWith,
	"endswith":   condition.FactEndsWith,
	"iequals":    condition.FactIEquals,
}

func isFactOp(t token) bool {
	switch t.kind {
	case tokIdent:
		_, ok := factKeywords[t.text]
		return ok
	case tokPunct:
		_, ok := condition.ParseCompareOp(t.text)
		return ok
	}
	return false
}

func (p *parser) parseFact() (condition.Node, error) {
	field := p.cur().text
	p.pos++
	opTok := p.cur()
	p.pos++

	if op, ok := factKeywords[opTok.text]; ok && opTok.kind == tokIdent {
		operand := p.cur()
		if op == condition.FactMatches {
			if operand.kind != tokRegex {
				return nil, p.fail("expected regular expression after matches, found %s", operand.describe())
			}
			p.pos++
			re, err := compileFactRegex(operand.text, operand.flags)
			if err != nil {
				return nil, &LoadError{
					Kind:   KindMalformedPattern,
					Detail: fmt.Sprintf("invalid regular expression for %s", field),
					Err:    err,
				}
			}
			return &condition.FactMatch{
				Field:       field,
				Key:         types.CanonicalField(field),
				Op:          op,
				Regex:       re,
				RegexSource: "/" + operand.text + "/" + operand.flags,
			}, nil
		}
		if operand.kind != tokString {
			return nil, p.fail("expected string after %s, found %s", opTok.text, operand.describe())
		}
		p.pos++
		return &condition.FactMatch{Field: field, Key: types.CanonicalField(field), Op: op, Value: operand.text}, nil
	}

	cmp, _ := condition.ParseCompareOp(opTok.text)
	if (cmp == condition.OpEQ || cmp == condition.OpNE) && p.cur().kind == tokString {
		op := condition.FactEquals
		if cmp == condition.OpNE {
			op = condition.FactNotEquals
		}
		value := p.cur().text
		p.pos++
		return &condition.FactMatch{Field: field, Key: types.CanonicalField(field), Op: op, Value: value}, nil
	}
	n, err := p.parseInt()
	if err != nil {
		return nil, err
	}
	return &condition.FactCompare{Field: field, Key: types.CanonicalField(field), Op: cmp, Value: n}, nil
}

// compileFactRegex maps the i, s and m flags onto RE2 inline flags.
func compileFactRegex(body, flags string) (*regexp.Regexp, error) {
	if flags != "" {
		body = "(?" + flags + ")" + body
	}
	return regexp.Compile(body)
}
