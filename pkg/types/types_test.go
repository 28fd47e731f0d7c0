package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const digest = "d41d8cd98f00b204e9800998ecf8427e"

func TestSyncTypeValid(t *testing.T) {
	for _, st := range SyncTypes {
		assert.True(t, st.Valid(), st)
	}
	assert.False(t, SyncType("bogus").Valid())
	assert.False(t, SyncType("").Valid())
	assert.Len(t, SyncTypes, 8)
}

func TestVersionLess(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Version
		wantLess bool
		wantOK   bool
	}{
		{"older epoch", EpochVersion(41), EpochVersion(42), true, true},
		{"newer epoch", EpochVersion(42), EpochVersion(41), false, true},
		{"same epoch", EpochVersion(7), EpochVersion(7), false, true},
		{"digest left", DigestVersion(digest), EpochVersion(1), false, false},
		{"digest right", EpochVersion(1), DigestVersion(digest), false, false},
		{"two digests", DigestVersion("a"), DigestVersion("b"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			less, ok := tt.a.Less(tt.b)
			assert.Equal(t, tt.wantLess, less)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestVersionEqual(t *testing.T) {
	assert.True(t, EpochVersion(3).Equal(EpochVersion(3)))
	assert.False(t, EpochVersion(3).Equal(EpochVersion(4)))
	assert.True(t, DigestVersion(digest).Equal(DigestVersion(digest)))
	assert.False(t, DigestVersion(digest).Equal(DigestVersion("other")))

	assert.True(t, Version{}.IsZero())
	assert.False(t, EpochVersion(1).IsZero())
	assert.True(t, DigestVersion(digest).IsDigest())
	assert.Equal(t, "12", EpochVersion(12).String())
	assert.Equal(t, digest, DigestVersion(digest).String())
}

func TestVersionJSON(t *testing.T) {
	tests := []struct {
		name    string
		version Version
		want    string
	}{
		{"epoch is a number", EpochVersion(42), `42`},
		{"digest is a string", DigestVersion(digest), `"` + digest + `"`},
		{"numeric looking digest stays a string", DigestVersion("12345"), `"12345"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(raw))

			var decoded Version
			require.NoError(t, json.Unmarshal(raw, &decoded))
			assert.True(t, tt.version.Equal(decoded))
		})
	}

	var v Version
	assert.Error(t, json.Unmarshal([]byte(`{"epoch": 1}`), &v))
}

func TestVersionYAML(t *testing.T) {
	tests := []struct {
		name    string
		version Version
		want    string
	}{
		{"epoch", EpochVersion(42), "42\n"},
		{"digest", DigestVersion(digest), digest + "\n"},
		{"numeric looking digest", DigestVersion("12345"), "\"12345\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := yaml.Marshal(tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(raw))

			var decoded Version
			require.NoError(t, yaml.Unmarshal(raw, &decoded))
			assert.True(t, tt.version.Equal(decoded))
		})
	}
}

func TestHeartbeatVersionsJSON(t *testing.T) {
	hb := ClusterHeartbeat{
		Name:      "ceph",
		ClusterID: "fsid-1",
		Versions: map[SyncType]Version{
			SyncOSDMap: EpochVersion(9),
			SyncHealth: DigestVersion(digest),
		},
	}

	raw, err := json.Marshal(hb)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ceph","fsid":"fsid-1","versions":{"osd_map":9,"health":"`+digest+`"}}`, string(raw))

	var decoded ClusterHeartbeat
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, hb, decoded)
}

func TestServiceDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		service ServiceDescriptor
		want    bool
	}{
		{"mon in quorum", ServiceDescriptor{Type: "mon", Status: &MonStatus{Rank: 1, Quorum: []int{0, 1, 2}}}, true},
		{"mon out of quorum", ServiceDescriptor{Type: "mon", Status: &MonStatus{Rank: 3, Quorum: []int{0, 1, 2}}}, false},
		{"mon without status", ServiceDescriptor{Type: "mon"}, false},
		{"osd", ServiceDescriptor{Type: "osd", Status: &MonStatus{Rank: 0, Quorum: []int{0}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.service.InQuorum())
		})
	}

	svc := ServiceDescriptor{Cluster: "ceph", Type: "mon", ID: "a"}
	assert.Equal(t, "ceph-mon.a", svc.Name())
}
