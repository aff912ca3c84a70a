package uds

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/pulsebar/pkg/core"
)

// memSink is a minimal Sink for exercising the server on its own.
type memSink struct {
	mu     sync.Mutex
	sample core.Sample
	sets   int
	logs   []string
}

func (m *memSink) SetSample(s core.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sample = s
	m.sets++
}

func (m *memSink) AppendLog(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, line)
}

func (m *memSink) snapshot() (core.Sample, int, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sample, m.sets, append([]string(nil), m.logs...)
}

func (m *memSink) hasLog(substr string) bool {
	_, _, logs := m.snapshot()
	for _, l := range logs {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startServer(t *testing.T) (*Server, *memSink, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "test.sock")
	sink := &memSink{}
	srv := NewServer(sock, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Shutdown()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})

	// Wait for socket to appear
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return srv, sink, sock
}

func dialTest(t *testing.T, sock string) *Client {
	t.Helper()
	c, err := Dial(sock)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func reqCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSendAck(t *testing.T) {
	_, sink, sock := startServer(t)
	client := dialTest(t, sock)

	reply, err := client.SendTokens(reqCtx(t), []string{"cpu", "42", "mem", "17"})
	require.NoError(t, err)
	assert.Equal(t, "ack", reply)

	sample, _, _ := sink.snapshot()
	assert.Equal(t, core.Sample{{Label: "cpu", Value: 42}, {Label: "mem", Value: 17}}, sample)
	assert.True(t, sink.hasLog("client connected"))
	assert.True(t, sink.hasLog("received from client: cpu 42 mem 17"))
}

func TestInvalidMessageKeepsConnectionOpen(t *testing.T) {
	_, sink, sock := startServer(t)
	client := dialTest(t, sock)

	_, err := client.Send(reqCtx(t), core.Sample{{Label: "a", Value: 1}})
	require.NoError(t, err)

	reply, err := client.SendRaw(reqCtx(t), []byte("a x\n"))
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, "err: invalid format", reply)

	// store untouched by the failed decode
	sample, sets, _ := sink.snapshot()
	assert.Equal(t, core.Sample{{Label: "a", Value: 1}}, sample)
	assert.Equal(t, 1, sets)
	assert.True(t, sink.hasLog(`parse error: invalid number "x"`))

	// same connection accepts corrected data
	reply, err = client.SendRaw(reqCtx(t), []byte("a 2\n"))
	require.NoError(t, err)
	assert.Equal(t, "ack", reply)
	sample, _, _ = sink.snapshot()
	assert.Equal(t, core.Sample{{Label: "a", Value: 2}}, sample)
}

func TestEmptyAndOddMessagesRejected(t *testing.T) {
	_, sink, sock := startServer(t)
	client := dialTest(t, sock)

	for _, msg := range []string{"   \n", "a 1 b\n"} {
		reply, err := client.SendRaw(reqCtx(t), []byte(msg))
		assert.ErrorIs(t, err, ErrRejected)
		assert.Equal(t, "err: invalid format", reply)
	}
	_, sets, _ := sink.snapshot()
	assert.Equal(t, 0, sets)
}

func TestImmediateCloseLogsDisconnect(t *testing.T) {
	_, sink, sock := startServer(t)

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return sink.hasLog("client disconnected")
	}, 2*time.Second, 10*time.Millisecond)
	_, sets, _ := sink.snapshot()
	assert.Equal(t, 0, sets)
}

func TestTwoClientsLastWriterWins(t *testing.T) {
	_, sink, sock := startServer(t)
	first := dialTest(t, sock)
	second := dialTest(t, sock)

	reply, err := first.SendTokens(reqCtx(t), []string{"a", "1"})
	require.NoError(t, err)
	assert.Equal(t, "ack", reply)

	reply, err = second.SendTokens(reqCtx(t), []string{"b", "2", "c", "3"})
	require.NoError(t, err)
	assert.Equal(t, "ack", reply)

	sample, _, _ := sink.snapshot()
	assert.Equal(t, core.Sample{{Label: "b", Value: 2}, {Label: "c", Value: 3}}, sample)
}

func TestSilentClientDoesNotBlockOthers(t *testing.T) {
	srv, _, sock := startServer(t)

	silent, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer silent.Close()

	client := dialTest(t, sock)
	reply, err := client.SendTokens(reqCtx(t), []string{"x", "9"})
	require.NoError(t, err)
	assert.Equal(t, "ack", reply)
	assert.Eventually(t, func() bool { return srv.Clients() == 2 }, time.Second, 10*time.Millisecond)
}

func TestStaleSocketRemoved(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "stale.sock")
	require.NoError(t, os.WriteFile(sock, []byte("stale"), 0o600))

	srv := NewServer(sock, &memSink{}, testLogger())
	require.NoError(t, srv.Listen())
	defer srv.Shutdown()

	info, err := os.Stat(sock)
	require.NoError(t, err)
	assert.Equal(t, os.ModeSocket, info.Mode().Type())
}

func TestListenLeavesLiveSocketAlone(t *testing.T) {
	_, sink, sock := startServer(t)

	other := NewServer(sock, &memSink{}, testLogger())
	assert.ErrorIs(t, other.Listen(), ErrSocketInUse)

	client := dialTest(t, sock)
	reply, err := client.SendTokens(reqCtx(t), []string{"cpu", "1"})
	require.NoError(t, err)
	assert.Equal(t, "ack", reply)

	sample, _, _ := sink.snapshot()
	assert.Equal(t, core.Sample{{Label: "cpu", Value: 1}}, sample)
}

func TestControlBytesNeverReachSink(t *testing.T) {
	_, sink, sock := startServer(t)
	client := dialTest(t, sock)

	reply, err := client.SendRaw(reqCtx(t), []byte("\x1b]0;pwned\x07 5 \x1b[2J 7\n"))
	require.NoError(t, err)
	assert.Equal(t, "ack", reply)

	sample, _, logs := sink.snapshot()
	for _, p := range sample {
		assert.NotContains(t, p.Label, "\x1b")
		assert.NotContains(t, p.Label, "\x07")
	}
	for _, line := range logs {
		assert.NotContains(t, line, "\x1b", line)
		assert.NotContains(t, line, "\x07", line)
	}
	assert.True(t, sink.hasLog("received from client: \uFFFD]0;pwned\uFFFD 5 \uFFFD[2J 7"))
}

func TestListenFailsOnUnusablePath(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "missing-dir", "x.sock")
	srv := NewServer(sock, &memSink{}, testLogger())
	assert.Error(t, srv.Listen())
}

func TestShutdownClosesConnections(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "test.sock")
	srv := NewServer(sock, &memSink{}, testLogger())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Eventually(t, func() bool { return srv.Clients() == 0 }, time.Second, 10*time.Millisecond)
	_, statErr := os.Stat(sock)
	assert.True(t, os.IsNotExist(statErr))
}

func TestServeWithoutListen(t *testing.T) {
	srv := NewServer(filepath.Join(t.TempDir(), "x.sock"), &memSink{}, testLogger())
	assert.Error(t, srv.Serve(context.Background()))
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Millisecond, nextBackoff(0))
	assert.Equal(t, 10*time.Millisecond, nextBackoff(5*time.Millisecond))
	assert.Equal(t, time.Second, nextBackoff(800*time.Millisecond))
}
