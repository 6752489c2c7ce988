package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
	"github.com/melih/lighthouse-console/internal/core/ports/portstest"
	"github.com/melih/lighthouse-console/internal/core/services/gateway"
	"github.com/melih/lighthouse-console/internal/core/services/hub"
	"github.com/melih/lighthouse-console/internal/core/services/sampler"
	"github.com/melih/lighthouse-console/internal/core/services/terminal"
	"github.com/melih/lighthouse-console/internal/telemetry"
)

type testEnv struct {
	srv      *httptest.Server
	engine   *portstest.FakeEngine
	registry *terminal.Registry
	hub      *hub.Hub
	sampler  *sampler.Sampler
	probe    *portstest.FakeProbe
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	metrics := telemetry.New()

	env := &testEnv{engine: portstest.NewFakeEngine(), probe: portstest.NewFakeProbe()}
	env.engine.AddContainer("web", "web")
	env.engine.ExecFunc = func(containerID string, spec domain.ExecSpec) (ports.ExecProcess, error) {
		if containerID != "web" {
			return nil, &domain.EngineError{Op: "exec", ContainerID: containerID, Kind: domain.ErrNotFound, Err: errors.New("no such container")}
		}
		p := portstest.NewFakeProcess()
		p.Respond = func(in []byte) []byte {
			if string(in) == "ls\n" {
				return []byte("bin\r\netc\r\n")
			}
			return nil
		}
		return p, nil
	}

	env.hub = hub.New(logger, metrics)
	gw := gateway.New(env.engine, time.Second, logger, metrics)
	env.sampler = sampler.New(sampler.Config{}, env.probe, gw, env.hub, logger, metrics)
	env.hub.UseStatusSource(env.sampler)

	bridge := terminal.NewBridge(env.engine, terminal.BridgeConfig{}, logger)
	env.registry = terminal.NewRegistry(bridge, terminal.Config{}, logger, metrics)
	t.Cleanup(env.registry.CloseAll)

	env.srv = httptest.NewServer(NewServer(env.registry, env.hub, env.sampler, logger).Routes())
	t.Cleanup(env.srv.Close)
	return env
}

type wsClient struct {
	t    *testing.T
	conn net.Conn
	rw   io.ReadWriter
}

func (e *testEnv) dial(t *testing.T) *wsClient {
	t.Helper()
	url := "ws://" + strings.TrimPrefix(e.srv.URL, "http://") + "/ws"
	conn, br, _, err := ws.Dial(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}
	c := &wsClient{t: t, conn: conn, rw: struct {
		io.Reader
		io.Writer
	}{bufio.NewReader(r), conn}}

	greeting := c.frame()
	require.Equal(t, domain.EventStatus, greeting.Type)
	return c
}

func (c *wsClient) send(typ string, data any) {
	c.t.Helper()
	payload, err := json.Marshal(map[string]any{"type": typ, "data": data})
	require.NoError(c.t, err)
	require.NoError(c.t, wsutil.WriteClientMessage(c.conn, ws.OpText, payload))
}

type inbound struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// frame returns the next text message, skipping terminal output.
func (c *wsClient) frame() inbound {
	c.t.Helper()
	for {
		data, op, err := wsutil.ReadServerData(c.rw)
		require.NoError(c.t, err)
		if op != ws.OpText {
			continue
		}
		var f inbound
		require.NoError(c.t, json.Unmarshal(data, &f))
		return f
	}
}

func TestTerminalRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	c.send(domain.MsgConnect, map[string]string{"containerId": "web", "userId": "u1"})
	connected := c.frame()
	require.Equal(t, domain.MsgConnected, connected.Type)
	sid, _ := connected.Data["sessionId"].(string)
	require.NotEmpty(t, sid)

	sess, ok := env.registry.Get(sid)
	require.True(t, ok)
	assert.Equal(t, domain.SessionAttached, sess.State)
	assert.Equal(t, "u1", sess.UserID)

	c.send(domain.MsgCommand, map[string]string{"sessionId": sid, "command": "ls\n"})

	var output strings.Builder
	sawAck := false
	for !sawAck || output.String() != "bin\r\netc\r\n" {
		data, op, err := wsutil.ReadServerData(c.rw)
		require.NoError(t, err)
		switch op {
		case ws.OpBinary:
			output.Write(data)
		case ws.OpText:
			var f inbound
			require.NoError(t, json.Unmarshal(data, &f))
			require.Equal(t, domain.MsgCommandSent, f.Type)
			sawAck = true
		}
	}

	c.send(domain.MsgClose, map[string]string{"sessionId": sid})
	for {
		if _, _, err := wsutil.ReadServerData(c.rw); err != nil {
			break
		}
	}

	assert.Eventually(t, func() bool {
		_, ok := env.registry.Get(sid)
		return !ok && env.hub.ConnectionCount() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAttachPreparedSession(t *testing.T) {
	env := newTestEnv(t)
	sid, err := env.registry.CreateSession("web", "u2")
	require.NoError(t, err)

	c := env.dial(t)
	c.send(domain.MsgConnect, map[string]string{"sessionId": sid})
	connected := c.frame()
	require.Equal(t, domain.MsgConnected, connected.Type)
	assert.Equal(t, sid, connected.Data["sessionId"])

	require.NoError(t, wsutil.WriteClientMessage(c.conn, ws.OpBinary, []byte("ls\n")))
	var output strings.Builder
	for output.String() != "bin\r\netc\r\n" {
		data, op, err := wsutil.ReadServerData(c.rw)
		require.NoError(t, err)
		if op == ws.OpBinary {
			output.Write(data)
		}
	}

	c.send(domain.MsgConnect, map[string]string{"sessionId": sid})
	assert.Equal(t, domain.MsgError, c.frame().Type)
}

func TestDisconnectClosesSession(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	c.send(domain.MsgConnect, map[string]string{"containerId": "web"})
	connected := c.frame()
	require.Equal(t, domain.MsgConnected, connected.Type)
	sid := connected.Data["sessionId"].(string)

	require.NoError(t, c.conn.Close())
	assert.Eventually(t, func() bool {
		_, ok := env.registry.Get(sid)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCommandErrors(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	c.send(domain.MsgCommand, map[string]string{"sessionId": "nope", "command": "ls\n"})
	assert.Equal(t, domain.MsgError, c.frame().Type)

	c.send("bogus", nil)
	f := c.frame()
	assert.Equal(t, domain.MsgError, f.Type)
	assert.Contains(t, f.Data["message"], "unknown message type")

	c.send(domain.MsgConnect, map[string]string{})
	f = c.frame()
	assert.Equal(t, domain.MsgError, f.Type)
	assert.Contains(t, f.Data["message"], "containerId is required")
}

func TestSpawnFailureClosesConnection(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	c.send(domain.MsgConnect, map[string]string{"containerId": "missing"})
	f := c.frame()
	assert.Equal(t, domain.MsgError, f.Type)
	assert.Contains(t, f.Data["message"], "failed to start terminal")

	_, _, err := wsutil.ReadServerData(c.rw)
	assert.Error(t, err)
	assert.Empty(t, env.registry.List())
}

func TestSubscribeContainer(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	c.send(domain.MsgSubscribeContainer, map[string]string{"container_id": "web"})
	f := c.frame()
	require.Equal(t, domain.MsgSubscribed, f.Type)
	assert.Equal(t, "container:web", f.Data["topic"])

	delivered := env.hub.Broadcast(domain.ContainerTopic("web"), domain.EventContainerMetricsUpdate, map[string]any{"cpu_percent": 1.5})
	assert.Equal(t, 1, delivered)
	f = c.frame()
	assert.Equal(t, domain.EventContainerMetricsUpdate, f.Type)
	assert.Equal(t, 1.5, f.Data["cpu_percent"])

	c.send(domain.MsgUnsubscribeContainer, map[string]string{"containerId": "web"})
	require.Equal(t, domain.MsgUnsubscribed, c.frame().Type)
	assert.Zero(t, env.hub.Broadcast(domain.ContainerTopic("web"), domain.EventContainerMetricsUpdate, nil))
}

func TestGetMetrics(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	c.send(domain.MsgGetMetrics, nil)
	assert.Equal(t, domain.MsgError, c.frame().Type)

	env.probe.Push(domain.MetricSnapshot{CPUPercent: 95, MemoryPercent: 10})
	require.NoError(t, env.sampler.SampleOnce(context.Background()))
	// the sample is broadcast to the system topic first
	require.Equal(t, domain.EventSystemMetricsUpdate, c.frame().Type)
	require.Equal(t, domain.EventNotification, c.frame().Type)

	c.send(domain.MsgGetMetrics, nil)
	f := c.frame()
	require.Equal(t, domain.MsgMetrics, f.Type)
	alerts := f.Data["alerts"].([]any)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "High CPU usage")
	assert.Equal(t, 95.0, f.Data["metrics"].(map[string]any)["cpu_percent"])
}
