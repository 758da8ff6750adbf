package rule

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// Loader reads rule files in text or YAML syntax.
type Loader struct {
	fs fs.FS // embedded filesystem for built-in rules
}

// NewLoader creates a loader with built-in rules from the embedded filesystem.
func NewLoader() *Loader {
	return &Loader{
		fs: builtinRulesFS,
	}
}

// NewLoaderWithFS creates a loader whose built-in rules come from fsys.
func NewLoaderWithFS(fsys fs.FS) *Loader {
	return &Loader{
		fs: fsys,
	}
}

// IsRuleFile reports whether a path has a rule file extension.
func IsRuleFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".rules", ".yar", ".yara", ".yml", ".yaml":
		return true
	}
	return false
}

// ParseBytes parses a rule file, choosing the syntax by extension.
func ParseBytes(data []byte, name string) ([]*types.Rule, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".yml", ".yaml":
		return ParseYAML(data, name)
	default:
		return Parse(data, name)
	}
}

// LoadRuleFile loads the rules of one file.
func (l *Loader) LoadRuleFile(p string) ([]*types.Rule, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", p, err)
	}
	return ParseBytes(data, p)
}

// LoadPaths loads every rule file named by paths; directories are walked
// recursively. Rules that parsed are returned even when others failed, with
// the failures aggregated in a LoadErrors.
func (l *Loader) LoadPaths(paths ...string) ([]*types.Rule, error) {
	var rules []*types.Rule
	var loadErrs LoadErrors

	collect := func(rs []*types.Rule, err error) error {
		rules = append(rules, rs...)
		if err == nil {
			return nil
		}
		var le LoadErrors
		if errors.As(err, &le) {
			loadErrs = append(loadErrs, le...)
			return nil
		}
		return err
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if !info.IsDir() {
			if err := collect(l.LoadRuleFile(p)); err != nil {
				return nil, err
			}
			continue
		}
		err = filepath.WalkDir(p, func(fp string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !IsRuleFile(fp) {
				return nil
			}
			return collect(l.LoadRuleFile(fp))
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load rules from %s: %w", p, err)
		}
	}
	return rules, loadErrs.OrNil()
}

// LoadFS loads every rule file under dir in fsys.
func (l *Loader) LoadFS(fsys fs.FS, dir string) ([]*types.Rule, error) {
	var rules []*types.Rule
	var loadErrs LoadErrors

	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsRuleFile(p) {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		rs, err := ParseBytes(data, p)
		rules = append(rules, rs...)
		if err != nil {
			var le LoadErrors
			if !errors.As(err, &le) {
				return fmt.Errorf("failed to parse %s: %w", p, err)
			}
			loadErrs = append(loadErrs, le...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rules, loadErrs.OrNil()
}

// LoadBuiltinRules loads the rules shipped with the binary.
func (l *Loader) LoadBuiltinRules() ([]*types.Rule, error) {
	return l.LoadFS(l.fs, "rules")
}
