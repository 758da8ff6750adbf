package main

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagcheck/tagcheck/pkg/serve"
	"github.com/tagcheck/tagcheck/pkg/types"
)

func runServeCommand(t *testing.T, stdin string, args ...string) ([]serve.Response, error) {
	t.Helper()
	resetGlobals(t)
	serveRules, serveFacts, serveWatch = ruleFlags{}, nil, false
	cmd, out, _ := newTestCommand("serve", runServe, addServeFlags)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()

	var resps []serve.Response
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp serve.Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		resps = append(resps, resp)
	}
	return resps, err
}

func TestRunServe(t *testing.T) {
	req, err := json.Marshal(map[string]any{
		"type":    "scan",
		"payload": map[string]any{"name": "dropper.bin", "content": banner},
	})
	require.NoError(t, err)

	resps, err := runServeCommand(t, string(req)+"\n"+`{"type":"close"}`+"\n")
	require.NoError(t, err)
	require.Len(t, resps, 2)

	assert.Equal(t, "ready", resps[0].Type)
	var ready serve.ReadyData
	require.NoError(t, json.Unmarshal(resps[0].Data, &ready))
	assert.Equal(t, serve.Version, ready.Version)
	assert.Positive(t, ready.Rules)

	assert.Equal(t, "scan", resps[1].Type)
	require.True(t, resps[1].Success, resps[1].Error)
	var report types.Report
	require.NoError(t, json.Unmarshal(resps[1].Data, &report))
	assert.Contains(t, report.RuleIDs(), "block_art")
}

func TestRunServe_StaticFacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.rules")
	writeFile(t, path, `rule from_ci { condition: env == "ci" }`)

	req := `{"type":"scan","payload":{"name":"a.txt","content":"x"}}`
	resps, err := runServeCommand(t, req+"\n", "--rules", path, "--fact", "env=ci")
	require.NoError(t, err)
	require.Len(t, resps, 2)

	var report types.Report
	require.NoError(t, json.Unmarshal(resps[1].Data, &report))
	assert.Equal(t, []string{"from_ci"}, report.RuleIDs())
}

func TestRunServe_WatchNeedsRules(t *testing.T) {
	_, err := runServeCommand(t, "", "--watch")
	assert.ErrorContains(t, err, "--watch needs rule paths")
}

func TestRunServe_BadFact(t *testing.T) {
	_, err := runServeCommand(t, "", "--fact", "novalue")
	assert.Error(t, err)
}
