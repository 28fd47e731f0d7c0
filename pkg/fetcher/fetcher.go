package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cuemby/monagent/pkg/adminsocket"
	"github.com/cuemby/monagent/pkg/agenterrors"
	"github.com/cuemby/monagent/pkg/crush"
	"github.com/cuemby/monagent/pkg/log"
	"github.com/cuemby/monagent/pkg/rados"
	"github.com/cuemby/monagent/pkg/types"
	"github.com/cuemby/monagent/pkg/versioning"
)

// Config holds fetcher settings
type Config struct {
	// SocketDir is where local daemon admin sockets live
	SocketDir string

	// Timeout bounds session setup and every command
	Timeout time.Duration
}

// DefaultConfig returns the stock Ceph locations and timeouts
func DefaultConfig() Config {
	return Config{
		SocketDir: "/var/run/ceph",
		Timeout:   20 * time.Second,
	}
}

// mapPrefixes lists the command used to read each plain map type. The first
// entry that succeeds wins; "fs dump" replaced "mds dump" in newer releases.
var mapPrefixes = map[types.SyncType][]string{
	types.SyncMonStatus:    {"mon_status"},
	types.SyncQuorumStatus: {"quorum_status"},
	types.SyncMonMap:       {"mon dump"},
	types.SyncOSDMap:       {"osd dump"},
	types.SyncMDSMap:       {"mds dump", "fs dump"},
}

// Fetcher retrieves versioned cluster objects
type Fetcher struct {
	connector rados.Connector
	admin     adminsocket.Requester
	compiler  crush.Compiler
	config    Config
	logger    zerolog.Logger
}

// New creates a new fetcher
func New(cfg Config, connector rados.Connector, admin adminsocket.Requester, compiler crush.Compiler) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.SocketDir == "" {
		cfg.SocketDir = DefaultConfig().SocketDir
	}
	return &Fetcher{
		connector: connector,
		admin:     admin,
		compiler:  compiler,
		config:    cfg,
		logger:    log.WithComponent("fetcher"),
	}
}

// Timeout returns the per-command timeout
func (f *Fetcher) Timeout() time.Duration {
	return f.config.Timeout
}

// Connect opens a session to cluster, failing with ErrClusterUnavailable
// when it cannot be established within the configured timeout.
func (f *Fetcher) Connect(ctx context.Context, cluster string) (rados.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	session, err := f.connector.Connect(ctx, cluster, f.config.Timeout)
	if err != nil {
		return nil, errors.WithStack(&agenterrors.ErrClusterUnavailable{Cluster: cluster, Err: err})
	}
	return session, nil
}

// Fetch returns the current version of one cluster object. since is logged
// but older versions cannot be served.
func (f *Fetcher) Fetch(ctx context.Context, cluster string, syncType types.SyncType, since types.Version) (*types.ClusterObjectRecord, error) {
	if !syncType.Valid() {
		return nil, errors.WithStack(&agenterrors.ErrUnknownObjectType{Type: string(syncType)})
	}

	logger := log.WithCluster(f.logger, cluster)
	logger.Debug().
		Str("sync_type", string(syncType)).
		Stringer("since", since).
		Msg("Fetching cluster object")

	session, err := f.Connect(ctx, cluster)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	status, err := f.Object(ctx, session, "status", nil)
	if err != nil {
		return nil, err
	}
	fsid, _ := status["fsid"].(string)

	record := &types.ClusterObjectRecord{
		Type:      syncType,
		ClusterID: fsid,
	}

	switch syncType {
	case types.SyncConfig:
		raw, err := f.Config(ctx, cluster)
		if err != nil {
			return nil, err
		}
		if record.Data, err = decodeObject("config show", raw); err != nil {
			return nil, err
		}
		if record.Version, err = versioning.RawVersion(syncType, record.Data, raw); err != nil {
			return nil, err
		}

	case types.SyncPGSummary:
		raw, err := f.Command(ctx, session, "pg dump", pgDumpArgs())
		if err != nil {
			return nil, err
		}
		summary, version, err := versioning.PGSummaryVersion(raw)
		if err != nil {
			return nil, errors.WithStack(&agenterrors.ErrCommand{Prefix: "pg dump", Message: err.Error()})
		}
		record.Data = summary.AsMap()
		record.Version = version

	case types.SyncHealth:
		raw, err := f.Command(ctx, session, "health", healthArgs())
		if err != nil {
			return nil, err
		}
		if record.Data, err = decodeObject("health", raw); err != nil {
			return nil, err
		}
		if record.Version, err = versioning.RawVersion(syncType, record.Data, raw); err != nil {
			return nil, err
		}

	default:
		var raw []byte
		var prefix string
		for _, prefix = range mapPrefixes[syncType] {
			if raw, err = f.Command(ctx, session, prefix, nil); err == nil {
				break
			}
		}
		if err != nil {
			return nil, err
		}
		if record.Data, err = decodeObject(prefix, raw); err != nil {
			return nil, err
		}
		if record.Version, err = versioning.RawVersion(syncType, record.Data, raw); err != nil {
			return nil, errors.WithStack(&agenterrors.ErrCommand{Prefix: prefix, Message: err.Error()})
		}

		if syncType == types.SyncOSDMap {
			if err := f.completeOSDMap(ctx, session, record); err != nil {
				return nil, err
			}
		}
	}

	return record, nil
}

// completeOSDMap adds the tree view, the crush hierarchy, the decompiled
// crush map and per-OSD metadata to an osd dump. Every query pins the epoch
// of the dump except "osd crush dump", which takes no epoch and may reflect
// a newer map.
func (f *Fetcher) completeOSDMap(ctx context.Context, session rados.Session, record *types.ClusterObjectRecord) error {
	epoch := record.Version.Epoch
	data := record.Data

	tree, err := f.Object(ctx, session, "osd tree", map[string]any{"epoch": epoch})
	if err != nil {
		return err
	}
	data["tree"] = tree

	crushDump, err := f.Object(ctx, session, "osd crush dump", nil)
	if err != nil {
		return err
	}
	data["crush"] = crushDump

	binary, err := f.Command(ctx, session, "osd getcrushmap", map[string]any{"epoch": epoch})
	if err != nil {
		return err
	}
	text, err := f.compiler.Decompile(ctx, binary)
	if err != nil {
		return errors.WithStack(&agenterrors.ErrCommand{Prefix: "osd getcrushmap", Message: err.Error()})
	}
	data["crush_map_text"] = string(text)

	metadata := []any{}
	osds, _ := data["osds"].([]any)
	for _, entry := range osds {
		osd, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		id, err := versioning.Epoch(osd, "osd")
		if err != nil {
			continue
		}

		meta, err := f.Object(ctx, session, "osd metadata", map[string]any{"id": id})
		if err != nil {
			// Unhealthy clusters fail this for down OSDs
			f.logger.Debug().Err(err).Int64("osd", id).Msg("Skipping OSD metadata")
			continue
		}
		meta["osd"] = id
		metadata = append(metadata, meta)
	}
	data["osd_metadata"] = metadata

	return nil
}

// ClusterStatus reports the current version of every sync type
func (f *Fetcher) ClusterStatus(ctx context.Context, session rados.Session, cluster string) (*types.ClusterHeartbeat, error) {
	monStatus, err := f.Object(ctx, session, "mon_status", nil)
	if err != nil {
		return nil, err
	}
	quorumStatus, err := f.Object(ctx, session, "quorum_status", nil)
	if err != nil {
		return nil, err
	}
	status, err := f.Object(ctx, session, "status", nil)
	if err != nil {
		return nil, err
	}

	versions := make(map[types.SyncType]types.Version, len(types.SyncTypes))

	if v, err := versioning.Epoch(monStatus, "election_epoch"); err == nil {
		versions[types.SyncMonStatus] = types.EpochVersion(v)
	}
	if v, err := versioning.Epoch(quorumStatus, "election_epoch"); err == nil {
		versions[types.SyncQuorumStatus] = types.EpochVersion(v)
	}
	if v, ok := versioning.NestedEpoch(status, "monmap", "epoch"); ok {
		versions[types.SyncMonMap] = types.EpochVersion(v)
	}
	if v, ok := osdMapEpoch(status); ok {
		versions[types.SyncOSDMap] = types.EpochVersion(v)
	}
	if v, ok := mdsMapEpoch(status); ok {
		versions[types.SyncMDSMap] = types.EpochVersion(v)
	}

	health, err := f.Command(ctx, session, "health", healthArgs())
	if err != nil {
		return nil, err
	}
	healthDigest, err := versioning.CanonicalDigest(health)
	if err != nil {
		return nil, errors.WithStack(&agenterrors.ErrCommand{Prefix: "health", Message: err.Error()})
	}
	versions[types.SyncHealth] = types.DigestVersion(healthDigest)

	pgs, err := f.Command(ctx, session, "pg dump", pgDumpArgs())
	if err != nil {
		return nil, err
	}
	_, pgVersion, err := versioning.PGSummaryVersion(pgs)
	if err != nil {
		return nil, errors.WithStack(&agenterrors.ErrCommand{Prefix: "pg dump", Message: err.Error()})
	}
	versions[types.SyncPGSummary] = pgVersion

	config, err := f.Config(ctx, cluster)
	if err != nil {
		return nil, err
	}
	configDigest, err := versioning.CanonicalDigest(config)
	if err != nil {
		return nil, errors.WithStack(&agenterrors.ErrCommand{Prefix: "config show", Message: err.Error()})
	}
	versions[types.SyncConfig] = types.DigestVersion(configDigest)

	fsid, _ := status["fsid"].(string)
	return &types.ClusterHeartbeat{
		Name:      cluster,
		ClusterID: fsid,
		Versions:  versions,
	}, nil
}

// Status opens a session, reads the cluster status and closes the session
func (f *Fetcher) Status(ctx context.Context, cluster string) (*types.ClusterHeartbeat, error) {
	session, err := f.Connect(ctx, cluster)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return f.ClusterStatus(ctx, session, cluster)
}

// Config reads the running configuration from a local mon's admin socket
func (f *Fetcher) Config(ctx context.Context, cluster string) ([]byte, error) {
	path, err := adminsocket.MonSocket(f.config.SocketDir, cluster)
	if err != nil {
		return nil, errors.WithStack(&agenterrors.ErrAdminSocket{Path: f.config.SocketDir, Message: err.Error()})
	}
	return f.admin.Request(ctx, path, []string{"config", "show"})
}

// Command runs prefix and returns the raw payload. A nonzero status or a
// transport failure is an ErrCommand.
func (f *Fetcher) Command(ctx context.Context, session rados.Session, prefix string, args map[string]any) ([]byte, error) {
	return Execute(ctx, session, prefix, args, nil, f.config.Timeout)
}

// Object runs prefix and decodes the payload as a JSON object
func (f *Fetcher) Object(ctx context.Context, session rados.Session, prefix string, args map[string]any) (map[string]any, error) {
	raw, err := f.Command(ctx, session, prefix, args)
	if err != nil {
		return nil, err
	}
	return decodeObject(prefix, raw)
}

// Execute runs one command on session, adding format=json to args
func Execute(ctx context.Context, session rados.Session, prefix string, args map[string]any, inbuf []byte, timeout time.Duration) ([]byte, error) {
	argdict := make(map[string]any, len(args)+1)
	for k, v := range args {
		argdict[k] = v
	}
	argdict["format"] = "json"

	status, payload, errText, err := session.Execute(ctx, prefix, argdict, inbuf, timeout)
	if err != nil {
		return nil, errors.WithStack(&agenterrors.ErrCommand{Prefix: prefix, Message: err.Error()})
	}
	if status != 0 {
		return nil, errors.WithStack(&agenterrors.ErrCommand{Prefix: prefix, Status: status, Message: errText})
	}
	return payload, nil
}

// Decode parses a JSON payload. An empty payload decodes to nil.
func Decode(prefix string, raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.WithStack(&agenterrors.ErrCommand{Prefix: prefix, Message: "invalid JSON output: " + err.Error()})
	}
	return v, nil
}

func decodeObject(prefix string, raw []byte) (map[string]any, error) {
	v, err := Decode(prefix, raw)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.WithStack(&agenterrors.ErrCommand{Prefix: prefix, Message: "expected a JSON object"})
	}
	return obj, nil
}

func osdMapEpoch(status map[string]any) (int64, bool) {
	if v, ok := versioning.NestedEpoch(status, "osdmap", "osdmap", "epoch"); ok {
		return v, true
	}
	return versioning.NestedEpoch(status, "osdmap", "epoch")
}

func mdsMapEpoch(status map[string]any) (int64, bool) {
	if _, ok := status["fsmap"]; ok {
		return versioning.NestedEpoch(status, "fsmap", "epoch")
	}
	return versioning.NestedEpoch(status, "mdsmap", "epoch")
}

func healthArgs() map[string]any {
	return map[string]any{"detail": ""}
}

func pgDumpArgs() map[string]any {
	return map[string]any{"dumpcontents": []string{"pgs_brief"}}
}
