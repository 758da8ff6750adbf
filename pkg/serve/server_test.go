package serve

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagcheck/tagcheck/pkg/ruleset"
	"github.com/tagcheck/tagcheck/pkg/scanner"
	"github.com/tagcheck/tagcheck/pkg/types"
)

func newCore(t *testing.T, paths ...string) *scanner.Core {
	t.Helper()
	core, err := scanner.NewCore(paths, ruleset.DefaultOptions())
	require.NoError(t, err)
	return core
}

func responses(t *testing.T, out string) []Response {
	t.Helper()
	var resps []Response
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		resps = append(resps, resp)
	}
	return resps
}

func banner() string {
	return strings.Repeat("░", 20) + strings.Repeat("▒", 20) + strings.Repeat("▓", 20)
}

func TestServer_SendsReadyOnStart(t *testing.T) {
	out := &bytes.Buffer{}
	srv := NewServer(newCore(t), strings.NewReader(""), out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately to exit after ready

	_ = srv.Run(ctx)

	resps := responses(t, out.String())
	require.NotEmpty(t, resps)
	assert.True(t, resps[0].Success)
	assert.Equal(t, "ready", resps[0].Type)

	var ready ReadyData
	require.NoError(t, json.Unmarshal(resps[0].Data, &ready))
	assert.Equal(t, Version, ready.Version)
	assert.Greater(t, ready.Rules, 0)
}

func TestServer_Scan(t *testing.T) {
	payload, err := json.Marshal(ScanPayload{Name: "dropper.bin", Content: banner()})
	require.NoError(t, err)
	request := `{"type":"scan","payload":` + string(payload) + `}` + "\n"

	out := &bytes.Buffer{}
	srv := NewServer(newCore(t), strings.NewReader(request), out)
	require.NoError(t, srv.Run(context.Background())) // Should exit cleanly on EOF

	resps := responses(t, out.String())
	require.Len(t, resps, 2) // ready + scan response
	assert.True(t, resps[1].Success)
	assert.Equal(t, "scan", resps[1].Type)

	var report types.Report
	require.NoError(t, json.Unmarshal(resps[1].Data, &report))
	assert.Equal(t, types.StatusComplete, report.Status)
	assert.Equal(t, []string{"block_art"}, report.RuleIDs())
	assert.Equal(t, 20, report.Entries[0].Evidence.Patterns[0].Count)
}

func TestServer_ScanWithFacts(t *testing.T) {
	request := `{"type":"scan","payload":{"name":"x","facts":{"al_network_static_domain":["a.ngrok.io"]}}}` + "\n"

	out := &bytes.Buffer{}
	srv := NewServer(newCore(t), strings.NewReader(request), out)
	require.NoError(t, srv.Run(context.Background()))

	resps := responses(t, out.String())
	require.Len(t, resps, 2)
	var report types.Report
	require.NoError(t, json.Unmarshal(resps[1].Data, &report))
	assert.Equal(t, []string{"tunnel_service_domain"}, report.RuleIDs())
}

func TestServer_ScanInvalidPayload(t *testing.T) {
	request := `{"type":"scan","payload":{"name":"x","content":"a","content_b64":"YQ=="}}` + "\n"

	out := &bytes.Buffer{}
	srv := NewServer(newCore(t), strings.NewReader(request), out)
	require.NoError(t, srv.Run(context.Background()))

	resps := responses(t, out.String())
	require.Len(t, resps, 2)
	assert.False(t, resps[1].Success)
	assert.Equal(t, "scan", resps[1].Type)
	assert.Contains(t, resps[1].Error, "content_b64")
}

func TestServer_GracefulShutdownOnContext(t *testing.T) {
	pr, pw := io.Pipe()
	out := &bytes.Buffer{}
	srv := NewServer(newCore(t), pr, out)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- srv.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	defer pw.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestServer_ScanBatch(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString([]byte(banner()))
	request := `{"type":"scan_batch","payload":{"items":[{"name":"s1","content":"test1"},{"name":"s2","content_b64":"` + b64 + `"}]}}` + "\n"

	out := &bytes.Buffer{}
	srv := NewServer(newCore(t), strings.NewReader(request), out)
	require.NoError(t, srv.Run(context.Background()))

	resps := responses(t, out.String())
	require.Len(t, resps, 2)
	assert.True(t, resps[1].Success)
	assert.Equal(t, "scan_batch", resps[1].Type)

	var result scanner.BatchScanResult
	require.NoError(t, json.Unmarshal(resps[1].Data, &result))
	require.Len(t, result.Reports, 2)
	assert.Equal(t, 1, result.Matched)
	assert.Empty(t, result.Reports[0].Entries)
}

func TestServer_CloseCommand(t *testing.T) {
	request := `{"type":"close","payload":{}}` + "\n" + `{"type":"scan","payload":{"content":"x"}}` + "\n"

	out := &bytes.Buffer{}
	srv := NewServer(newCore(t), strings.NewReader(request), out)
	require.NoError(t, srv.Run(context.Background()))

	assert.Len(t, responses(t, out.String()), 1) // Only ready signal
}

func TestServer_UnknownCommand(t *testing.T) {
	out := &bytes.Buffer{}
	srv := NewServer(newCore(t), strings.NewReader(`{"type":"invalid","payload":{}}`+"\n"), out)
	_ = srv.Run(context.Background())

	resps := responses(t, out.String())
	require.Len(t, resps, 2)
	assert.False(t, resps[1].Success)
	assert.Contains(t, resps[1].Error, "unknown request type")
}

func TestServer_MalformedJSON(t *testing.T) {
	out := &bytes.Buffer{}
	srv := NewServer(newCore(t), strings.NewReader(`{invalid json}`+"\n"), out)
	_ = srv.Run(context.Background())

	resps := responses(t, out.String())
	require.GreaterOrEqual(t, len(resps), 2)
	assert.False(t, resps[1].Success)
	assert.Equal(t, "decode", resps[1].Type)
}

func TestServer_Reload(t *testing.T) {
	calls := 0
	reloader := func() (*scanner.Core, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("rules are broken")
		}
		return newCore(t), nil
	}
	request := `{"type":"reload"}` + "\n" + `{"type":"reload"}` + "\n"

	out := &bytes.Buffer{}
	first := newCore(t)
	srv := NewServer(first, strings.NewReader(request), out, WithReloader(reloader))
	require.NoError(t, srv.Run(context.Background()))

	resps := responses(t, out.String())
	require.Len(t, resps, 3)
	assert.True(t, resps[1].Success)
	assert.Equal(t, "reload", resps[1].Type)
	var data ReloadData
	require.NoError(t, json.Unmarshal(resps[1].Data, &data))
	assert.Greater(t, data.Rules, 0)

	assert.False(t, resps[2].Success)
	assert.Contains(t, resps[2].Error, "rules are broken")
	assert.NotSame(t, first, srv.Core(), "failed reload keeps the last good core")
}

func TestServer_ReloadDisabled(t *testing.T) {
	out := &bytes.Buffer{}
	srv := NewServer(newCore(t), strings.NewReader(`{"type":"reload"}`+"\n"), out)
	require.NoError(t, srv.Run(context.Background()))

	resps := responses(t, out.String())
	require.Len(t, resps, 2)
	assert.False(t, resps[1].Success)
}
