package jobs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/monagent/pkg/agenterrors"
	"github.com/cuemby/monagent/pkg/cli"
	"github.com/cuemby/monagent/pkg/fetcher"
	"github.com/cuemby/monagent/pkg/rados/radostest"
	"github.com/cuemby/monagent/pkg/types"
)

const testFQDN = "node1.example.com"

type fakeAdmin struct{}

func (fakeAdmin) Request(ctx context.Context, path string, cmd []string) ([]byte, error) {
	return []byte(`{"fsid": "fsid-1", "mon_host": "10.0.0.1"}`), nil
}

type fakeCompiler struct {
	err error
}

func (c *fakeCompiler) Compile(ctx context.Context, text []byte) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return append([]byte("bin:"), text...), nil
}

func (c *fakeCompiler) Decompile(ctx context.Context, binary []byte) ([]byte, error) {
	return []byte("# begin crush map\n"), c.err
}

type fakeCLI struct {
	mu    sync.Mutex
	argv  [][]string
	panic bool
}

func (c *fakeCLI) Run(ctx context.Context, argv []string, stdin []byte) (cli.Output, error) {
	if c.panic {
		panic("runner exploded")
	}
	c.mu.Lock()
	c.argv = append(c.argv, argv)
	c.mu.Unlock()
	return cli.Output{Stdout: "ok\n", Status: 0}, nil
}

type fixture struct {
	session   *radostest.Session
	connector *radostest.Connector
	cli       *fakeCLI
	compiler  *fakeCompiler
	runner    *Runner
}

func newFixture(t *testing.T) *fixture {
	socketDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(socketDir, "ceph-mon.a.asok"), nil, 0o600))

	session := radostest.NewSession().
		JSON("status", map[string]any{
			"fsid":   "fsid-1",
			"monmap": map[string]any{"epoch": 3},
			"osdmap": map[string]any{"osdmap": map[string]any{"epoch": 12}},
			"fsmap":  map[string]any{"epoch": 5},
		}).
		JSON("mon_status", map[string]any{"election_epoch": 8}).
		JSON("quorum_status", map[string]any{"election_epoch": 8}).
		JSON("mon dump", map[string]any{"epoch": 3, "mons": []any{}}).
		Raw("health", []byte(`{"status": "HEALTH_OK"}`)).
		Raw("pg dump", []byte(`[{"pgid":"1.0","state":"active+clean","acting":[0,1]}]`)).
		JSON("df", map[string]any{
			"stats": map[string]any{"total_bytes": 1000, "total_used_bytes": 10},
			"pools": []any{
				map[string]any{"name": "rbd", "id": 1, "stats": map[string]any{"objects": 3}},
				map[string]any{"name": "data", "id": 2, "stats": map[string]any{"objects": 5}},
			},
		})

	f := &fixture{
		session:   session,
		connector: &radostest.Connector{Session: session},
		cli:       &fakeCLI{},
		compiler:  &fakeCompiler{},
	}
	fetch := fetcher.New(fetcher.Config{SocketDir: socketDir, Timeout: time.Second}, f.connector, fakeAdmin{}, f.compiler)
	f.runner = New(Config{FQDN: testFQDN}, fetch, f.cli, f.compiler)
	return f
}

func TestExecuteUnsupportedCommand(t *testing.T) {
	f := newFixture(t)

	result := f.runner.Execute(context.Background(), "ceph.bogus", nil)
	assert.False(t, result.Success)
	assert.Equal(t, testFQDN, result.ID)
	assert.True(t, agenterrors.IsUnsupportedCommand(result.Err))
	assert.Contains(t, result.Return, `unsupported command "ceph.bogus"`)

	assert.Empty(t, f.connector.Clusters(), "no collaborator may be called")
	assert.Empty(t, f.cli.argv)
	assert.False(t, f.runner.Supports("ceph.bogus"))
}

func TestCommands(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{
		"ceph.ceph_command",
		"ceph.cluster_stats",
		"ceph.get_cluster_object",
		"ceph.pool_stats",
		"ceph.rados_commands",
		"ceph.rbd_command",
		"selftest.exception",
		"selftest.wait",
	}, f.runner.Commands())
	for _, name := range f.runner.Commands() {
		assert.True(t, f.runner.Supports(name))
	}
}

func TestGetClusterObject(t *testing.T) {
	f := newFixture(t)

	result := f.runner.Execute(context.Background(), string(CmdGetClusterObject), map[string]any{
		"cluster_name": "ceph",
		"sync_type":    "mon_map",
		"since":        float64(2),
	})
	require.True(t, result.Success, "%v", result.Return)

	record, ok := result.Return.(*types.ClusterObjectRecord)
	require.True(t, ok)
	assert.Equal(t, types.SyncMonMap, record.Type)
	assert.Equal(t, "fsid-1", record.ClusterID)
	assert.Equal(t, types.EpochVersion(3), record.Version)
}

func TestGetClusterObjectUnknownType(t *testing.T) {
	f := newFixture(t)

	result := f.runner.Execute(context.Background(), string(CmdGetClusterObject), map[string]any{
		"cluster_name": "ceph",
		"sync_type":    "bogus",
	})
	assert.False(t, result.Success)
	assert.True(t, agenterrors.IsUnknownObjectType(result.Err))
	assert.Empty(t, f.connector.Clusters())
}

func TestRadosCommandsStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	f.session.
		JSON("osd pool create", map[string]any{"pool": "rbd"}).
		Fail("osd pool set", -16, "EBUSY: pool is in use").
		JSON("osd pool delete", map[string]any{})

	result := f.runner.Execute(context.Background(), string(CmdRadosCommands), map[string]any{
		"fsid":         "fsid-1",
		"cluster_name": "ceph",
		"commands": []any{
			[]any{"osd pool create", map[string]any{"pool": "rbd", "pg_num": 64}},
			[]any{"osd pool set", map[string]any{"pool": "rbd", "var": "size", "val": "3"}},
			[]any{"osd pool delete", map[string]any{"pool": "rbd"}},
		},
	})
	require.True(t, result.Success, "%v", result.Return)

	batch, ok := result.Return.(*BatchResult)
	require.True(t, ok)
	assert.True(t, batch.Error)
	assert.Equal(t, "EBUSY: pool is in use", batch.ErrorStatus)
	assert.Equal(t, []any{map[string]any{"pool": "rbd"}}, batch.Results)
	assert.Equal(t, "fsid-1", batch.FSID)
	assert.Equal(t, types.EpochVersion(12), batch.Versions[types.SyncOSDMap])
	assert.Len(t, batch.Versions, len(types.SyncTypes))

	assert.NotContains(t, f.session.Prefixes(), "osd pool delete")
	calls := f.session.Calls()
	assert.Equal(t, "osd pool create", calls[0].Prefix)
	assert.Equal(t, map[string]any{"pool": "rbd", "pg_num": 64, "format": "json"}, calls[0].Args)
	assert.Equal(t, "osd pool set", calls[1].Prefix)
	assert.True(t, f.session.Closed())
}

func TestRadosCommandsObjectForm(t *testing.T) {
	f := newFixture(t)
	f.session.JSON("osd pool set", map[string]any{})

	result := f.runner.Execute(context.Background(), string(CmdRadosCommands), map[string]any{
		"fsid":         "fsid-1",
		"cluster_name": "ceph",
		"commands": []any{
			map[string]any{"prefix": "osd pool set", "args": map[string]any{"pool": "rbd"}},
		},
	})
	require.True(t, result.Success, "%v", result.Return)

	batch := result.Return.(*BatchResult)
	assert.False(t, batch.Error)
	assert.Empty(t, batch.ErrorStatus)
	assert.Len(t, batch.Results, 1)
}

func TestRadosCommandsSetCrushMap(t *testing.T) {
	t.Run("compiled map is sent as input", func(t *testing.T) {
		f := newFixture(t)
		f.session.Raw("osd setcrushmap", nil)

		batch, err := f.runner.RunBatch(context.Background(), "fsid-1", "ceph", []RadosCommand{
			{Prefix: "osd setcrushmap", Args: map[string]any{"data": "# begin crush map"}},
		})
		require.NoError(t, err)
		assert.False(t, batch.Error)
		assert.Equal(t, []any{nil}, batch.Results)

		call := f.session.Calls()[0]
		assert.Equal(t, "osd setcrushmap", call.Prefix)
		assert.Equal(t, []byte("bin:# begin crush map"), call.Inbuf)
		assert.Equal(t, map[string]any{"format": "json"}, call.Args)
	})

	t.Run("compile failure aborts the job", func(t *testing.T) {
		f := newFixture(t)
		f.compiler.err = errors.New("syntax error on line 3")

		result := f.runner.Execute(context.Background(), string(CmdRadosCommands), map[string]any{
			"cluster_name": "ceph",
			"commands": []any{
				[]any{"osd setcrushmap", map[string]any{"data": "garbage"}},
			},
		})
		assert.False(t, result.Success)
		assert.Contains(t, result.Return, "syntax error on line 3")
		assert.NotContains(t, f.session.Prefixes(), "osd setcrushmap")
	})
}

func TestRadosCommandsBadPair(t *testing.T) {
	f := newFixture(t)

	result := f.runner.Execute(context.Background(), string(CmdRadosCommands), map[string]any{
		"cluster_name": "ceph",
		"commands":     []any{[]any{"osd pool set"}},
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Return, "command pair must have 2 elements")
	assert.Empty(t, f.connector.Clusters())
}

func TestCLICommands(t *testing.T) {
	tests := []struct {
		name    string
		command Command
		args    map[string]any
		want    []string
	}{
		{
			name:    "ceph with cluster",
			command: CmdCephCommand,
			args:    map[string]any{"cluster_name": "ceph", "args": []any{"osd", "tree"}},
			want:    []string{"ceph", "--cluster", "ceph", "osd", "tree"},
		},
		{
			name:    "ceph without cluster",
			command: CmdCephCommand,
			args:    map[string]any{"args": []any{"health"}},
			want:    []string{"ceph", "health"},
		},
		{
			name:    "rbd with pool",
			command: CmdRbdCommand,
			args:    map[string]any{"pool_name": "rbd", "args": []any{"ls"}},
			want:    []string{"rbd", "--pool", "rbd", "ls"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			result := f.runner.Execute(context.Background(), string(tt.command), tt.args)
			require.True(t, result.Success, "%v", result.Return)
			assert.Equal(t, cli.Output{Stdout: "ok\n", Status: 0}, result.Return)
			require.Len(t, f.cli.argv, 1)
			assert.Equal(t, tt.want, f.cli.argv[0])
		})
	}
}

func TestClusterStats(t *testing.T) {
	f := newFixture(t)

	result := f.runner.Execute(context.Background(), string(CmdClusterStats), map[string]any{"cluster_name": "ceph"})
	require.True(t, result.Success, "%v", result.Return)
	assert.Equal(t, map[string]any{"total_bytes": float64(1000), "total_used_bytes": float64(10)}, result.Return)
	assert.True(t, f.session.Closed())
}

func TestPoolStats(t *testing.T) {
	tests := []struct {
		name    string
		ids     []any
		want    []map[string]any
		wantErr string
	}{
		{
			name: "selected pools",
			ids:  []any{float64(2)},
			want: []map[string]any{{"name": "data", "objects": float64(5)}},
		},
		{
			name: "all pools",
			want: []map[string]any{
				{"name": "rbd", "objects": float64(3)},
				{"name": "data", "objects": float64(5)},
			},
		},
		{
			name:    "unknown pool",
			ids:     []any{float64(9)},
			wantErr: "pool lookup: no pool with id 9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			args := map[string]any{"cluster_name": "ceph"}
			if tt.ids != nil {
				args["pool_ids"] = tt.ids
			}

			result := f.runner.Execute(context.Background(), string(CmdPoolStats), args)
			if tt.wantErr != "" {
				assert.False(t, result.Success)
				assert.Contains(t, result.Return, tt.wantErr)
				return
			}
			require.True(t, result.Success, "%v", result.Return)
			assert.Equal(t, tt.want, result.Return)
		})
	}
}

func TestSelftest(t *testing.T) {
	f := newFixture(t)

	result := f.runner.Execute(context.Background(), string(CmdSelftestWait), map[string]any{"period": 0.01})
	assert.True(t, result.Success)
	assert.Nil(t, result.Return)

	result = f.runner.Execute(context.Background(), string(CmdSelftestException), nil)
	assert.False(t, result.Success)
	require.IsType(t, "", result.Return)
	assert.Contains(t, result.Return, "This is a self-test exception")
	// The formatted error carries its stack
	assert.Contains(t, result.Return, "selftestException")
}

func TestSelftestWaitCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := f.runner.Execute(ctx, string(CmdSelftestWait), map[string]any{"period": 60})
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, context.Canceled)
}

func TestExecuteRecoversPanic(t *testing.T) {
	f := newFixture(t)
	f.cli.panic = true

	result := f.runner.Execute(context.Background(), string(CmdCephCommand), map[string]any{"args": []any{"status"}})
	assert.False(t, result.Success)
	assert.Contains(t, result.Return, "panic: runner exploded")
	assert.Equal(t, string(CmdCephCommand), result.Command)
}

func TestSinceVersion(t *testing.T) {
	assert.Equal(t, types.EpochVersion(4), sinceVersion(float64(4)))
	assert.Equal(t, types.EpochVersion(4), sinceVersion(4))
	assert.Equal(t, types.DigestVersion("abc"), sinceVersion("abc"))
	assert.True(t, sinceVersion(nil).IsZero())
}
