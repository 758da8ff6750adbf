package main

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagcheck/tagcheck/pkg/types"
)

const sampleRules = `rule greeting : demo {
    meta:
        description = "Says hello"
    strings:
        $hi = "hello"
    condition:
        $hi
}

private rule quiet_helper {
    condition:
        file_size > 0
}
`

func rulesListCommand(t *testing.T) (*cobra.Command, func() string) {
	resetGlobals(t)
	cmd, out, _ := newTestCommand("list", runRulesList, func(c *cobra.Command) {
		c.Flags().StringSliceVar(&rulesPaths, "rules", nil, "")
		c.Flags().StringVar(&outputFormat, "format", "table", "")
		c.Flags().BoolVar(&listPrivate, "private", false, "")
	})
	return cmd, out.String
}

func TestRulesList_Table(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.rules")
	writeFile(t, path, sampleRules)

	cmd, out := rulesListCommand(t)
	cmd.SetArgs([]string{"--rules", path})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out(), "ID")
	assert.Contains(t, out(), "greeting")
	assert.Contains(t, out(), "Says hello")
	assert.NotContains(t, out(), "quiet_helper")

	cmd, out = rulesListCommand(t)
	cmd.SetArgs([]string{"--rules", path, "--private"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out(), "quiet_helper (private)")
}

func TestRulesList_JSONBuiltin(t *testing.T) {
	cmd, out := rulesListCommand(t)
	cmd.SetArgs([]string{"--format", "json"})
	require.NoError(t, cmd.Execute())

	var rules []*types.Rule
	require.NoError(t, json.Unmarshal([]byte(out()), &rules))
	require.NotEmpty(t, rules)
	for _, r := range rules {
		assert.False(t, r.Private, r.ID)
	}
}

func TestRulesList_InvalidFormat(t *testing.T) {
	cmd, _ := rulesListCommand(t)
	cmd.SetArgs([]string{"--format", "xml"})
	assert.ErrorContains(t, cmd.Execute(), "unknown output format")
}

func rulesCheckCommand(t *testing.T, args ...string) (string, error) {
	resetGlobals(t)
	cmd, out, _ := newTestCommand("check", runRulesCheck, func(c *cobra.Command) {
		c.Flags().StringSliceVar(&rulesPaths, "rules", nil, "")
	})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRulesCheck(t *testing.T) {
	out, err := rulesCheckCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: ")

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "good.rules"), sampleRules)
	writeFile(t, filepath.Join(dir, "bad.rules"), `rule broken { condition: missing_rule }`)

	out, err = rulesCheckCommand(t, "--rules", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 rule errors (2 sound rules)")
	assert.Contains(t, out, "[E]")
	assert.Contains(t, out, "missing_rule")
}

func TestRulesCheck_SyntaxError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syntax.rules")
	writeFile(t, path, `rule { condition: }`)

	out, err := rulesCheckCommand(t, "--rules", path)
	require.Error(t, err)
	assert.Contains(t, out, "[E]")
}

func rulesTestCommand(t *testing.T, args ...string) (string, error) {
	resetGlobals(t)
	cmd, out, _ := newTestCommand("test", runRulesTest, func(c *cobra.Command) {
		c.Args = cobra.MaximumNArgs(1)
		c.Flags().StringVar(&testFile, "file", "", "")
		c.Flags().BoolVar(&testSkipOK, "skip-ok", false, "")
		c.Flags().StringVar(&testColor, "color", "never", "")
	})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRulesTest_Builtin(t *testing.T) {
	out, err := rulesTestCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: All tests passed for")
	assert.Contains(t, out, "0 failed")
}

func TestRulesTest_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sample.rules"), sampleRules)
	writeFile(t, filepath.Join(dir, "tests", "sample.json"), `[
  {"name": "greets", "expects_match": ["greeting"], "content": "hello there"},
  {"name": "silent", "expects_no_match": ["greeting"], "content": "goodbye"}
]`)

	out, err := rulesTestCommand(t, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: All tests passed for sample.rules")

	writeFile(t, filepath.Join(dir, "tests", "sample.json"), `[
  {"name": "wrong", "expects_match": ["greeting"], "content": "goodbye"}
]`)
	out, err = rulesTestCommand(t, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 rule files failed")
	assert.Contains(t, out, "FAIL: Some tests failed for sample.rules")
}

func TestRulesTest_MissingDirectory(t *testing.T) {
	_, err := rulesTestCommand(t, filepath.Join(t.TempDir(), "nope"))
	assert.ErrorContains(t, err, "rules directory does not exist")
}
