package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// SyncType identifies one of the cluster objects the agent knows how to fetch
type SyncType string

const (
	SyncMonStatus    SyncType = "mon_status"
	SyncQuorumStatus SyncType = "quorum_status"
	SyncMonMap       SyncType = "mon_map"
	SyncOSDMap       SyncType = "osd_map"
	SyncMDSMap       SyncType = "mds_map"
	SyncPGSummary    SyncType = "pg_summary"
	SyncHealth       SyncType = "health"
	SyncConfig       SyncType = "config"
)

// SyncTypes is the fixed enumeration of synchronized object types, in report order
var SyncTypes = []SyncType{
	SyncMonStatus,
	SyncQuorumStatus,
	SyncMonMap,
	SyncOSDMap,
	SyncMDSMap,
	SyncPGSummary,
	SyncHealth,
	SyncConfig,
}

// Valid reports whether t belongs to the fixed enumeration
func (t SyncType) Valid() bool {
	for _, known := range SyncTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Version is a comparable version token for a cluster object.
// Epoch based tokens are ordered; digest based tokens only support equality.
type Version struct {
	Epoch  int64
	Digest string
}

// EpochVersion creates an ordered version token
func EpochVersion(epoch int64) Version {
	return Version{Epoch: epoch}
}

// DigestVersion creates an equality-only version token
func DigestVersion(digest string) Version {
	return Version{Digest: digest}
}

// IsDigest reports whether the token is content-hash based
func (v Version) IsDigest() bool {
	return v.Digest != ""
}

// IsZero reports whether no version was recorded
func (v Version) IsZero() bool {
	return v.Epoch == 0 && v.Digest == ""
}

// Equal reports whether two tokens denote the same object version
func (v Version) Equal(o Version) bool {
	return v.Epoch == o.Epoch && v.Digest == o.Digest
}

// Less orders two epoch tokens. ok is false when either token is a digest,
// since digests carry no ordering.
func (v Version) Less(o Version) (less bool, ok bool) {
	if v.IsDigest() || o.IsDigest() {
		return false, false
	}
	return v.Epoch < o.Epoch, true
}

func (v Version) String() string {
	if v.IsDigest() {
		return v.Digest
	}
	return strconv.FormatInt(v.Epoch, 10)
}

// MarshalJSON renders epochs as numbers and digests as strings
func (v Version) MarshalJSON() ([]byte, error) {
	if v.IsDigest() {
		return json.Marshal(v.Digest)
	}
	return json.Marshal(v.Epoch)
}

// UnmarshalJSON accepts either a number or a string
func (v *Version) UnmarshalJSON(data []byte) error {
	var digest string
	if err := json.Unmarshal(data, &digest); err == nil {
		*v = DigestVersion(digest)
		return nil
	}
	var epoch int64
	if err := json.Unmarshal(data, &epoch); err != nil {
		return fmt.Errorf("version must be a number or a string: %w", err)
	}
	*v = EpochVersion(epoch)
	return nil
}

// MarshalYAML renders the token as a scalar
func (v Version) MarshalYAML() (interface{}, error) {
	if v.IsDigest() {
		return v.Digest, nil
	}
	return v.Epoch, nil
}

// UnmarshalYAML accepts an integer scalar as an epoch and any other scalar
// as a digest
func (v *Version) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("version must be a scalar, got %s", value.ShortTag())
	}
	if value.ShortTag() == "!!int" {
		var epoch int64
		if err := value.Decode(&epoch); err != nil {
			return err
		}
		*v = EpochVersion(epoch)
		return nil
	}
	*v = DigestVersion(value.Value)
	return nil
}

// ClusterObjectRecord is one fetched cluster object together with its version
type ClusterObjectRecord struct {
	Type      SyncType       `json:"type" yaml:"type"`
	ClusterID string         `json:"fsid" yaml:"fsid"`
	Version   Version        `json:"version" yaml:"version"`
	Data      map[string]any `json:"data" yaml:"data"`
}

// ClusterHeartbeat summarizes a cluster by the current version of each sync type
type ClusterHeartbeat struct {
	Name      string               `json:"name" yaml:"name"`
	ClusterID string               `json:"fsid" yaml:"fsid"`
	Versions  map[SyncType]Version `json:"versions" yaml:"versions"`
}

// ServiceDescriptor describes one control-plane daemon found on this host
type ServiceDescriptor struct {
	Cluster   string     `json:"cluster" yaml:"cluster"`
	Type      string     `json:"type" yaml:"type"`
	ID        string     `json:"id" yaml:"id"`
	ClusterID string     `json:"fsid" yaml:"fsid"`
	Status    *MonStatus `json:"status" yaml:"status"`
	Version   string     `json:"version,omitempty" yaml:"version,omitempty"`
}

// Name returns the service key used in server heartbeats: <cluster>-<type>.<id>
func (s *ServiceDescriptor) Name() string {
	return fmt.Sprintf("%s-%s.%s", s.Cluster, s.Type, s.ID)
}

// InQuorum reports whether the service is a mon that is part of the quorum
func (s *ServiceDescriptor) InQuorum() bool {
	if s.Type != "mon" || s.Status == nil {
		return false
	}
	for _, rank := range s.Status.Quorum {
		if rank == s.Status.Rank {
			return true
		}
	}
	return false
}

// MonStatus is the subset of a mon's status the agent relies on
type MonStatus struct {
	Name          string `json:"name" yaml:"name"`
	Rank          int    `json:"rank" yaml:"rank"`
	State         string `json:"state" yaml:"state"`
	ElectionEpoch int64  `json:"election_epoch" yaml:"election_epoch"`
	Quorum        []int  `json:"quorum" yaml:"quorum"`
}

// ServerHeartbeat is the per-host summary emitted every heartbeat round
type ServerHeartbeat struct {
	Services    map[string]*ServiceDescriptor `json:"services" yaml:"services"`
	BootTime    int64                         `json:"boot_time" yaml:"boot_time"`
	CephVersion *string                       `json:"ceph_version" yaml:"ceph_version"`
}

// JobStatus is the state of a job in the table. A job leaves the table
// when it completes.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
)

// Job is an asynchronous command execution owned by the event bus
type Job struct {
	ID        string         `json:"jid"`
	Command   string         `json:"command"`
	Args      map[string]any `json:"args,omitempty"`
	Status    JobStatus      `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	StartedAt time.Time      `json:"started_at,omitempty"`
}

// JobResult is the outcome of a job. A failed job carries the formatted
// error in Return; Err keeps the typed error for in-process callers.
type JobResult struct {
	ID      string         `json:"id" yaml:"id"`
	JID     string         `json:"jid" yaml:"jid"`
	Success bool           `json:"success" yaml:"success"`
	Return  any            `json:"return" yaml:"return"`
	Command string         `json:"fun" yaml:"fun"`
	Args    map[string]any `json:"fun_args" yaml:"fun_args"`
	Err     error          `json:"-" yaml:"-"`
}

// RunningJob is one entry of a running jobs report
type RunningJob struct {
	JID string `json:"jid" yaml:"jid"`
}

// EventKind identifies the payload carried by an Event
type EventKind string

const (
	EventHeartbeat       EventKind = "heartbeat"
	EventJob             EventKind = "job"
	EventServerHeartbeat EventKind = "server_heartbeat"
	EventRunningJobs     EventKind = "running_jobs"
)

// Event is an immutable message fanned out to subscribers.
// Exactly one payload field is set, matching Kind.
type Event struct {
	Kind            EventKind
	Timestamp       time.Time
	Heartbeat       map[string]*ClusterHeartbeat
	ServerHeartbeat *ServerHeartbeat
	Job             *JobResult
	RunningJobs     []RunningJob
}

// NewHeartbeatEvent wraps per-cluster heartbeats keyed by cluster id
func NewHeartbeatEvent(clusters map[string]*ClusterHeartbeat) *Event {
	return &Event{Kind: EventHeartbeat, Timestamp: time.Now(), Heartbeat: clusters}
}

// NewServerHeartbeatEvent wraps a server heartbeat
func NewServerHeartbeatEvent(hb *ServerHeartbeat) *Event {
	return &Event{Kind: EventServerHeartbeat, Timestamp: time.Now(), ServerHeartbeat: hb}
}

// NewJobEvent wraps a job completion
func NewJobEvent(result *JobResult) *Event {
	return &Event{Kind: EventJob, Timestamp: time.Now(), Job: result}
}

// NewRunningJobsEvent wraps a running jobs report
func NewRunningJobsEvent(jobs []RunningJob) *Event {
	return &Event{Kind: EventRunningJobs, Timestamp: time.Now(), RunningJobs: jobs}
}
