package adminsocket

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/monagent/pkg/agenterrors"
)

const monDescriptions = `{
  "cmd000": {"sig": ["config", "show"], "help": "dump current config settings"},
  "cmd001": {"sig": ["config", "get", {"name": "var", "type": "CephString"}], "help": "config get <field>"},
  "cmd002": {"sig": ["mon_status"], "help": "show current monitor status"},
  "cmd003": {"sig": [{"name": "prefix", "type": "CephPrefix", "prefix": "version"}], "help": "get ceph version"},
  "cmd004": {"sig": ["perf", "dump", {"name": "logger", "type": "CephString", "req": "false"}], "help": "dump perf counters"},
  "cmd005": {"sig": ["log", "level", {"name": "level", "type": "CephChoices", "strings": "debug|info"}], "help": "set level"}
}`

// fakeDaemon serves the admin socket protocol and records every request
type fakeDaemon struct {
	listener     net.Listener
	mu           sync.Mutex
	requests     []map[string]any
	descriptions string
	silent       bool
	length       uint32 // announced length, overrides the body size when set
}

func newFakeDaemon(t *testing.T) (*fakeDaemon, string) {
	dir, err := os.MkdirTemp("", "asok")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "ceph-mon.a.asok")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)

	d := &fakeDaemon{listener: l, descriptions: monDescriptions}
	t.Cleanup(func() { l.Close() })
	go d.serve()
	return d, path
}

func (d *fakeDaemon) serve() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}
		go d.handle(conn)
	}
}

func (d *fakeDaemon) handle(conn net.Conn) {
	defer conn.Close()

	raw, err := bufio.NewReader(conn).ReadBytes(0)
	if err != nil {
		return
	}
	var request map[string]any
	if err := json.Unmarshal(raw[:len(raw)-1], &request); err != nil {
		return
	}

	d.mu.Lock()
	d.requests = append(d.requests, request)
	descriptions := d.descriptions
	silent := d.silent
	length := d.length
	d.mu.Unlock()

	if silent {
		return
	}

	var body []byte
	if request["prefix"] == DescriptionsCommand {
		body = []byte(descriptions)
	} else {
		body, _ = json.Marshal(map[string]any{"echo": request})
	}

	if length == 0 {
		length = uint32(len(body))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], length)
	_, _ = conn.Write(header[:])
	_, _ = conn.Write(body)
}

func (d *fakeDaemon) prefixes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, r := range d.requests {
		out = append(out, r["prefix"].(string))
	}
	return out
}

func TestRequestValidatesAndSends(t *testing.T) {
	daemon, path := newFakeDaemon(t)
	client := NewClient(time.Second, 0)

	tests := []struct {
		name    string
		cmd     []string
		request map[string]any
	}{
		{
			name:    "literal words",
			cmd:     []string{"config", "show"},
			request: map[string]any{"prefix": "config show", "format": "json"},
		},
		{
			name:    "string argument",
			cmd:     []string{"config", "get", "fsid"},
			request: map[string]any{"prefix": "config get", "var": "fsid", "format": "json"},
		},
		{
			name:    "object prefix",
			cmd:     []string{"version"},
			request: map[string]any{"prefix": "version", "format": "json"},
		},
		{
			name:    "optional argument omitted",
			cmd:     []string{"perf", "dump"},
			request: map[string]any{"prefix": "perf dump", "format": "json"},
		},
		{
			name:    "choices",
			cmd:     []string{"log", "level", "debug"},
			request: map[string]any{"prefix": "log level", "level": "debug", "format": "json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := client.Request(context.Background(), path, tt.cmd)
			require.NoError(t, err)

			var resp struct {
				Echo map[string]any `json:"echo"`
			}
			require.NoError(t, json.Unmarshal(raw, &resp))
			assert.Equal(t, tt.request, resp.Echo)
		})
	}

	// every structured command is preceded by a descriptions request when caching is off
	prefixes := daemon.prefixes()
	assert.Equal(t, DescriptionsCommand, prefixes[0])
	assert.Len(t, prefixes, 2*len(tests))
}

func TestRequestInvalidCommand(t *testing.T) {
	daemon, path := newFakeDaemon(t)
	client := NewClient(time.Second, 0)

	for _, cmd := range [][]string{
		{"config"},
		{"config", "show", "extra"},
		{"log", "level", "trace"},
		{"no_such_command"},
	} {
		_, err := client.Request(context.Background(), path, cmd)
		require.Error(t, err, "%v", cmd)
		assert.True(t, agenterrors.IsAdminSocket(err))
		assert.Contains(t, err.Error(), "invalid command")
	}

	for _, prefix := range daemon.prefixes() {
		assert.Equal(t, DescriptionsCommand, prefix, "invalid commands must not be sent")
	}
}

func TestRequestDescriptionsPassThrough(t *testing.T) {
	daemon, path := newFakeDaemon(t)
	client := NewClient(time.Second, time.Minute)

	raw, err := client.Request(context.Background(), path, []string{DescriptionsCommand})
	require.NoError(t, err)
	assert.JSONEq(t, monDescriptions, string(raw))
	assert.Len(t, daemon.prefixes(), 1)
}

func TestRequestCachesDescriptions(t *testing.T) {
	daemon, path := newFakeDaemon(t)
	client := NewClient(time.Second, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := client.Request(context.Background(), path, []string{"mon_status"})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{DescriptionsCommand, "mon_status", "mon_status", "mon_status"}, daemon.prefixes())

	client.Invalidate(path)
	_, err := client.Request(context.Background(), path, []string{"mon_status"})
	require.NoError(t, err)
	assert.Equal(t, DescriptionsCommand, daemon.prefixes()[4])
}

func TestRequestRefreshesStaleDescriptions(t *testing.T) {
	daemon, path := newFakeDaemon(t)
	client := NewClient(time.Second, time.Minute)

	_, err := client.Request(context.Background(), path, []string{"mon_status"})
	require.NoError(t, err)

	daemon.mu.Lock()
	daemon.descriptions = `{"cmd000": {"sig": ["quorum_status"]}}`
	daemon.mu.Unlock()

	_, err = client.Request(context.Background(), path, []string{"quorum_status"})
	require.NoError(t, err)
	assert.Equal(t, []string{DescriptionsCommand, "mon_status", DescriptionsCommand, "quorum_status"}, daemon.prefixes())
}

func TestRequestTransportErrors(t *testing.T) {
	client := NewClient(200*time.Millisecond, 0)

	_, err := client.Request(context.Background(), "/nonexistent/ceph-osd.0.asok", []string{"version"})
	require.Error(t, err)
	assert.True(t, agenterrors.IsAdminSocket(err))

	daemon, path := newFakeDaemon(t)
	daemon.mu.Lock()
	daemon.silent = true
	daemon.mu.Unlock()
	_, err = client.Request(context.Background(), path, []string{"version"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data returned")
}

func TestRequestRejectsOversizedResponse(t *testing.T) {
	daemon, path := newFakeDaemon(t)
	daemon.mu.Lock()
	daemon.length = MaxResponseSize + 1
	daemon.mu.Unlock()

	client := NewClient(time.Second, 0)
	_, err := client.Request(context.Background(), path, []string{DescriptionsCommand})
	require.Error(t, err)
	assert.True(t, agenterrors.IsAdminSocket(err))
	assert.Contains(t, err.Error(), "exceeds")
}
