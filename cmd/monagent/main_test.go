package main

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/monagent/pkg/storage"
	"github.com/cuemby/monagent/pkg/types"
)

func TestParseJobArgs(t *testing.T) {
	tests := []struct {
		name     string
		argsJSON string
		pairs    []string
		want     map[string]any
		wantErr  bool
	}{
		{
			name:  "plain strings",
			pairs: []string{"cluster_name=ceph", "sync_type=osd_map"},
			want:  map[string]any{"cluster_name": "ceph", "sync_type": "osd_map"},
		},
		{
			name:  "json values keep their type",
			pairs: []string{"since=12", "pool_ids=[1,2]", "period=0.5"},
			want:  map[string]any{"since": float64(12), "pool_ids": []any{float64(1), float64(2)}, "period": 0.5},
		},
		{
			name:     "pairs override json",
			argsJSON: `{"cluster_name": "ceph", "fsid": "abc"}`,
			pairs:    []string{"cluster_name=backup"},
			want:     map[string]any{"cluster_name": "backup", "fsid": "abc"},
		},
		{
			name:  "value containing equals",
			pairs: []string{"val=a=b"},
			want:  map[string]any{"val": "a=b"},
		},
		{
			name:    "missing equals",
			pairs:   []string{"cluster_name"},
			wantErr: true,
		},
		{
			name:     "invalid json",
			argsJSON: `{"cluster_name":`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseJobArgs(tt.argsJSON, tt.pairs)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCephArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"separate words", []string{"osd", "tree"}, []string{"osd", "tree"}},
		{"single word", []string{"health"}, []string{"health"}},
		{"quoted line", []string{`osd pool create "my pool" 64`}, []string{"osd", "pool", "create", "my pool", "64"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cephArgs(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := cephArgs([]string{`osd "unterminated`})
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	result := types.JobResult{
		ID:      "node1",
		JID:     "j1",
		Success: true,
		Command: "ceph.get_cluster_object",
		Return: &types.ClusterObjectRecord{
			Type:      types.SyncOSDMap,
			ClusterID: "fsid-1",
			Version:   types.EpochVersion(12),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, render(&buf, "yaml", result))
	assert.Contains(t, buf.String(), "fun: ceph.get_cluster_object")
	assert.Contains(t, buf.String(), "version: 12")

	buf.Reset()
	require.NoError(t, render(&buf, "json", result))
	assert.Contains(t, buf.String(), `"jid": "j1"`)
	assert.Contains(t, buf.String(), `"version": 12`)

	assert.Error(t, render(&buf, "xml", result))
}

func TestRecordJobs(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	var forwarded []string
	handler := recordJobs(store, 2, func(fqdn string, result *types.JobResult) {
		forwarded = append(forwarded, result.JID)
	})

	for i := 0; i < 3; i++ {
		handler("node1", &types.JobResult{JID: fmt.Sprintf("j%d", i), Success: true})
	}

	assert.Equal(t, []string{"j0", "j1", "j2"}, forwarded)
	records, err := store.ListJobRecords()
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = store.GetJobRecord("j2")
	assert.NoError(t, err)
}
