package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmdmdm-nz/netusage/internal/ifnames"
	"github.com/dmdmdm-nz/netusage/internal/usage"
)

func row(name, rx, tx string) string {
	return fmt.Sprintf("%s  Rx: %-12s  Tx: %s\n", name, rx, tx)
}

func TestConsole_RenderAppendsWithoutRedraw(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(ConsoleOptions{Out: &out})

	snap := usage.Snapshot{Speeds: map[string]usage.Speed{
		"lo0": {},
		"en0": {RxBytesPerSec: 1536, TxBytesPerSec: 512},
	}}
	require.NoError(t, c.Render(snap))
	require.NoError(t, c.Render(snap))

	block := row("en0:", "1.5 KB/s", "512 B/s") + row("lo0:", "0 B/s", "0 B/s")
	assert.Equal(t, "Network Usage:\n"+block+"\n"+block, out.String())
	assert.NotContains(t, out.String(), "\x1b")
}

func TestConsole_RenderRedrawsInPlace(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(ConsoleOptions{Out: &out, Redraw: true})

	snap := usage.Snapshot{Speeds: map[string]usage.Speed{"en0": {RxBytesPerSec: 1024}}}
	require.NoError(t, c.Render(snap))
	require.NoError(t, c.Render(snap))

	block := row("en0:", "1 KB/s", "0 B/s")
	assert.Equal(t, "Network Usage:\n\x1b[s"+block+"\x1b[u\x1b[J"+block, out.String())
}

func TestConsole_RenderUsesLabelsAndAlignsNames(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(ConsoleOptions{Out: &out, Labels: ifnames.Labels{"en0": "Wi-Fi"}})

	require.NoError(t, c.Render(usage.Snapshot{Speeds: map[string]usage.Speed{
		"en0":  {},
		"utun": {},
	}}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "en0 (Wi-Fi):  Rx:"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "utun:         Rx:"), lines[2])
}

func TestConsole_RenderListsResets(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(ConsoleOptions{Out: &out})

	require.NoError(t, c.Render(usage.Snapshot{
		Speeds: map[string]usage.Speed{"en0": {}},
		Reset:  []string{"en1"},
	}))
	assert.Contains(t, out.String(), "en1:  counters reset\n")
}

func TestConsole_ColorWrapsSpeeds(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(ConsoleOptions{Out: &out, Color: true})

	require.NoError(t, c.Render(usage.Snapshot{Speeds: map[string]usage.Speed{"en0": {}}}))
	assert.Contains(t, out.String(), "\x1b[32m")
	assert.Contains(t, out.String(), "\x1b[36m")
}

func TestConsole_RunOnceStopsAfterFirstSnapshot(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(ConsoleOptions{Out: &out, Once: true})

	ch := make(chan usage.Snapshot, 2)
	ch <- usage.Snapshot{Speeds: map[string]usage.Speed{"en0": {RxBytesPerSec: 1}}}
	ch <- usage.Snapshot{Speeds: map[string]usage.Speed{"en0": {RxBytesPerSec: 2}}}

	require.NoError(t, c.Run(context.Background(), ch))
	assert.Contains(t, out.String(), "1 B/s")
	assert.NotContains(t, out.String(), "2 B/s")
	assert.Len(t, ch, 1)
}

func TestConsole_RunStopsOnClosedChannel(t *testing.T) {
	c := NewConsole(ConsoleOptions{Out: &bytes.Buffer{}})

	ch := make(chan usage.Snapshot)
	close(ch)
	assert.NoError(t, c.Run(context.Background(), ch))
}

func TestConsole_RunStopsOnCancel(t *testing.T) {
	c := NewConsole(ConsoleOptions{Out: &bytes.Buffer{}})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, make(chan usage.Snapshot)) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Run to return")
	}
}
