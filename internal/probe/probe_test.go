package probe_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AliMehraji/wait4it/internal/probe"
)

// ── helpers ──────────────────────────────────────────────────────────────────

// fakeSource is a scripted SettingsSource.
type fakeSource struct {
	settings map[string]map[string]string
	err      error
}

func (f *fakeSource) Settings(_ context.Context, key string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.settings[key], nil
}

// tcpListener opens a throwaway listener that accepts (and holds) one
// connection, returning its address.
func tcpListener(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		conn, err := l.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(time.Second)
		}
	}()
	return l.Addr().String()
}

// deadAddr returns an address that refuses connections: a listener is
// opened to reserve a port, then closed again.
func deadAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func shortCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ── kinds ────────────────────────────────────────────────────────────────────

func TestProbeKinds(t *testing.T) {
	assert.Equal(t, probe.KindDatabase, probe.NewPostgres(nil, nil).Kind())
	assert.Equal(t, probe.KindRedis, probe.NewRedis(nil, nil).Kind())
	assert.Equal(t, probe.KindRabbitMQ, probe.NewRabbitMQ(nil, nil).Kind())
	assert.Equal(t, probe.KindKafka, probe.NewKafka(nil, nil).Kind())
}

// ── kafka ────────────────────────────────────────────────────────────────────

func TestKafka_DialableBrokerIsReady(t *testing.T) {
	addr := tcpListener(t)
	p := probe.NewKafka(nil, map[string]string{"KAFKA_BROKER": addr})

	assert.NoError(t, p.Check(shortCtx(t)))
}

func TestKafka_RefusedConnectionIsUnreachable(t *testing.T) {
	p := probe.NewKafka(nil, map[string]string{"KAFKA_BROKER": deadAddr(t)})

	err := p.Check(shortCtx(t))
	assert.ErrorIs(t, err, probe.ErrUnreachable)
}

func TestKafka_StoredSettingsOverrideFallback(t *testing.T) {
	live := tcpListener(t)
	src := &fakeSource{settings: map[string]map[string]string{
		probe.KindKafka: {"KAFKA_BROKER": live},
	}}
	// Fallback points at a dead port; the stored broker must win.
	p := probe.NewKafka(src, map[string]string{"KAFKA_BROKER": deadAddr(t)})

	assert.NoError(t, p.Check(shortCtx(t)))
}

func TestKafka_SettingsSourceErrorPropagates(t *testing.T) {
	src := &fakeSource{err: errors.New("store down")}
	p := probe.NewKafka(src, nil)

	err := p.Check(shortCtx(t))
	assert.ErrorContains(t, err, "store down")
}

// ── refused-connection classification for the client-library probes ──────────

func TestPostgres_RefusedConnectionIsUnreachable(t *testing.T) {
	host, port, err := net.SplitHostPort(deadAddr(t))
	require.NoError(t, err)
	p := probe.NewPostgres(nil, map[string]string{"DB_HOST": host, "DB_PORT": port})

	checkErr := p.Check(shortCtx(t))
	assert.ErrorIs(t, checkErr, probe.ErrUnreachable)
}

func TestRedis_RefusedConnectionIsUnreachable(t *testing.T) {
	host, port, err := net.SplitHostPort(deadAddr(t))
	require.NoError(t, err)
	p := probe.NewRedis(nil, map[string]string{"REDIS_HOST": host, "REDIS_PORT": port})

	checkErr := p.Check(shortCtx(t))
	assert.ErrorIs(t, checkErr, probe.ErrUnreachable)
}

func TestRabbitMQ_RefusedConnectionIsUnreachable(t *testing.T) {
	host, port, err := net.SplitHostPort(deadAddr(t))
	require.NoError(t, err)
	p := probe.NewRabbitMQ(nil, map[string]string{"RABBITMQ_HOSTNAME": host, "RABBITMQ_PORT": port})

	checkErr := p.Check(shortCtx(t))
	assert.ErrorIs(t, checkErr, probe.ErrUnreachable)
}
