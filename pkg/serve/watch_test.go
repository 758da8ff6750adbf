package serve

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagcheck/tagcheck/pkg/ruleset"
	"github.com/tagcheck/tagcheck/pkg/scanner"
)

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServer_WatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.rules")
	require.NoError(t, os.WriteFile(path, []byte(`rule one { condition: true }`), 0o644))

	reloader := func() (*scanner.Core, error) {
		return scanner.NewCore([]string{dir}, ruleset.DefaultOptions())
	}
	core, err := reloader()
	require.NoError(t, err)

	out := &syncBuffer{}
	srv := NewServer(core, strings.NewReader(""), out, WithReloader(reloader))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Watch(ctx, []string{dir}, 20*time.Millisecond) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("rule one { condition: true }\nrule two { condition: false }\n"), 0o644))

	assert.Eventually(t, func() bool {
		return srv.Core().Scanner().RuleSet().Len() == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, out.String(), `"type":"reload"`)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestServer_WatchRequiresReloader(t *testing.T) {
	srv := NewServer(newCore(t), strings.NewReader(""), &bytes.Buffer{})
	assert.Error(t, srv.Watch(context.Background(), []string{t.TempDir()}, 0))
}
