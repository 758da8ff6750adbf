package rule

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tagcheck/tagcheck/pkg/condition"
	"github.com/tagcheck/tagcheck/pkg/types"
)

// yamlRule is the YAML form of a rule.
type yamlRule struct {
	ID        string        `yaml:"id"`
	Private   bool          `yaml:"private,omitempty"`
	Tags      []string      `yaml:"tags,omitempty"`
	Meta      yaml.Node     `yaml:"meta,omitempty"` // kept as a node to preserve key order
	Patterns  []yamlPattern `yaml:"patterns,omitempty"`
	Condition string        `yaml:"condition"`
}

// yamlPattern declares exactly one of Text, Hex or Regex.
type yamlPattern struct {
	Name  string  `yaml:"name"`
	Text  *string `yaml:"text,omitempty"`
	Hex   *string `yaml:"hex,omitempty"`
	Regex *string `yaml:"regex,omitempty"`

	types.Modifiers `yaml:",inline"`
}

// yamlRulesFile is the top-level structure of a YAML rules file.
type yamlRulesFile struct {
	Rules []yamlRule `yaml:"rules"`
}

// ParseYAML reads rules in YAML form. Like Parse it returns the rules that
// converted cleanly alongside LoadErrors for the rest.
func ParseYAML(data []byte, file string) ([]*types.Rule, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, LoadErrors{{Kind: KindSyntax, Source: types.Source{File: file}, Detail: "invalid YAML", Err: err}}
	}
	var doc yamlRulesFile
	if err := root.Decode(&doc); err != nil {
		return nil, LoadErrors{{Kind: KindSyntax, Source: types.Source{File: file}, Detail: "invalid rules file", Err: err}}
	}

	lines := ruleLines(&root)
	var rules []*types.Rule
	var errs LoadErrors
	for i, yr := range doc.Rules {
		src := types.Source{File: file}
		if i < len(lines) {
			src.Line = lines[i]
		}
		r, err := convertYAMLRule(yr, src)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, r)
	}
	return rules, errs.OrNil()
}

// ruleLines returns the line of each entry of the top-level rules list.
func ruleLines(root *yaml.Node) []int {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil
	}
	m := root.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == "rules" {
			var lines []int
			for _, n := range m.Content[i+1].Content {
				lines = append(lines, n.Line)
			}
			return lines
		}
	}
	return nil
}

func convertYAMLRule(yr yamlRule, src types.Source) (*types.Rule, *LoadError) {
	r := &types.Rule{
		ID:      yr.ID,
		Private: yr.Private,
		Tags:    yr.Tags,
		Source:  src,
	}
	fail := func(format string, args ...any) *LoadError {
		return &LoadError{RuleID: r.ID, Kind: KindSyntax, Source: src, Detail: fmt.Sprintf(format, args...)}
	}

	if r.ID == "" {
		return nil, fail("rule ID is required")
	}

	meta, err := decodeMeta(&yr.Meta)
	if err != nil {
		return nil, fail("meta: %v", err)
	}
	r.Meta = meta

	for _, yp := range yr.Patterns {
		p := types.Pattern{Name: yp.Name, Modifiers: yp.Modifiers}
		set := 0
		if yp.Text != nil {
			p.Kind, p.Raw = types.KindText, *yp.Text
			set++
		}
		if yp.Hex != nil {
			p.Kind, p.Raw = types.KindHex, *yp.Hex
			set++
		}
		if yp.Regex != nil {
			p.Kind, p.Raw = types.KindRegex, *yp.Regex
			set++
		}
		if set != 1 {
			return nil, fail("pattern %q must set exactly one of text, hex or regex", yp.Name)
		}
		if p.Name == "" {
			return nil, fail("pattern without a name")
		}
		r.Patterns = append(r.Patterns, p)
	}

	cond, err := ParseCondition(yr.Condition)
	if err != nil {
		le := AsLoadErrors(err)[0]
		le.RuleID, le.Source = r.ID, src
		return nil, le
	}
	r.Condition = cond
	return r, nil
}

func decodeMeta(n *yaml.Node) (types.Metadata, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping")
	}
	var meta types.Metadata
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("value of %q must be a scalar", k.Value)
		}
		meta = append(meta, types.MetaEntry{Key: k.Value, Value: v.Value})
	}
	return meta, nil
}

// ParseCondition parses a standalone condition expression.
func ParseCondition(expr string) (condition.Node, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, &LoadError{Kind: KindSyntax, Detail: "condition", Err: err}
	}
	p := &parser{toks: toks}
	if p.eof() {
		return nil, &LoadError{Kind: KindSyntax, Detail: "empty condition"}
	}
	n, err := p.parseOr()
	if err == nil && !p.eof() {
		err = p.fail("unexpected %s after condition", p.cur().describe())
	}
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			return nil, le
		}
		return nil, &LoadError{Kind: KindSyntax, Detail: "condition", Err: err}
	}
	return n, nil
}
