// Package versioning turns raw cluster command output into comparable version
// tokens and reduces placement group dumps into compact summaries.
package versioning

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/pkg/errors"

	"github.com/cuemby/monagent/pkg/types"
)

// Source describes where the version token of a sync type comes from
type Source int

const (
	// SourceElectionEpoch reads the election_epoch field of the payload
	SourceElectionEpoch Source = iota
	// SourceEpoch reads the epoch field of the payload
	SourceEpoch
	// SourceRawDigest hashes the canonical form of the raw payload
	SourceRawDigest
	// SourceSummaryDigest hashes the reduced placement group summary
	SourceSummaryDigest
)

var sources = map[types.SyncType]Source{
	types.SyncMonStatus:    SourceElectionEpoch,
	types.SyncQuorumStatus: SourceElectionEpoch,
	types.SyncMonMap:       SourceEpoch,
	types.SyncOSDMap:       SourceEpoch,
	types.SyncMDSMap:       SourceEpoch,
	types.SyncPGSummary:    SourceSummaryDigest,
	types.SyncHealth:       SourceRawDigest,
	types.SyncConfig:       SourceRawDigest,
}

// VersionSource returns how the version of a sync type is derived
func VersionSource(t types.SyncType) (Source, bool) {
	s, ok := sources[t]
	return s, ok
}

// Digest returns the 32 hex character MD5 of raw
func Digest(raw []byte) string {
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// Canonicalize re-encodes a JSON document with sorted object keys and
// compact separators, so documents differing only in key order or whitespace
// produce the same bytes. Numbers keep their original text.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode payload")
	}
	if dec.More() {
		return nil, errors.New("decode payload: trailing data")
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	return out, nil
}

// CanonicalDigest digests the canonical form of a JSON payload
func CanonicalDigest(raw []byte) (string, error) {
	canonical, err := Canonicalize(raw)
	if err != nil {
		return "", err
	}
	return Digest(canonical), nil
}

// Epoch extracts an integer counter field from a decoded payload
func Epoch(data map[string]any, field string) (int64, error) {
	v, ok := data[field]
	if !ok {
		return 0, fmt.Errorf("missing field %q", field)
	}
	return toInt64(v, field)
}

// NestedEpoch walks a path of objects and extracts the integer at its end.
// It returns ok=false when any element of the path is absent.
func NestedEpoch(data map[string]any, path ...string) (int64, bool) {
	current := data
	for i, key := range path {
		v, ok := current[key]
		if !ok || v == nil {
			return 0, false
		}
		if i == len(path)-1 {
			n, err := toInt64(v, key)
			return n, err == nil
		}
		next, ok := v.(map[string]any)
		if !ok {
			return 0, false
		}
		current = next
	}
	return 0, false
}

func toInt64(v any, field string) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case float64:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("field %q is %T, not an integer", field, v)
	}
}

// PGBrief is one record of a brief placement group dump
type PGBrief struct {
	PGID   string `json:"pgid"`
	State  string `json:"state"`
	Up     []int  `json:"up"`
	Acting []int  `json:"acting"`
}

// PGSummary counts placement groups by state, per OSD, per pool and overall
type PGSummary struct {
	ByOSD  map[int]map[string]int `json:"by_osd" codec:"by_osd"`
	ByPool map[int]map[string]int `json:"by_pool" codec:"by_pool"`
	All    map[string]int         `json:"all" codec:"all"`
}

// AsMap renders the summary as a generic object for cluster object records
func (s PGSummary) AsMap() map[string]any {
	return map[string]any{
		"by_osd":  s.ByOSD,
		"by_pool": s.ByPool,
		"all":     s.All,
	}
}

// DecodePGBriefs parses a brief placement group dump. Both the bare list
// format and the {"pg_stats": [...]} envelope are accepted.
func DecodePGBriefs(raw []byte) ([]PGBrief, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var pgs []PGBrief
		if err := json.Unmarshal(trimmed, &pgs); err != nil {
			return nil, errors.Wrap(err, "decode pg dump")
		}
		return pgs, nil
	}

	var envelope struct {
		PGStats []PGBrief `json:"pg_stats"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, errors.Wrap(err, "decode pg dump")
	}
	return envelope.PGStats, nil
}

// ReducePGSummary converts an O(pg count) dump into an O(osd count) summary
// in a single pass.
func ReducePGSummary(pgs []PGBrief) (PGSummary, error) {
	summary := PGSummary{
		ByOSD:  make(map[int]map[string]int),
		ByPool: make(map[int]map[string]int),
		All:    make(map[string]int),
	}

	for _, pg := range pgs {
		for _, osd := range pg.Acting {
			osdStats, ok := summary.ByOSD[osd]
			if !ok {
				osdStats = make(map[string]int)
				summary.ByOSD[osd] = osdStats
			}
			osdStats[pg.State]++
		}

		pool, err := PoolID(pg.PGID)
		if err != nil {
			return PGSummary{}, err
		}
		poolStats, ok := summary.ByPool[pool]
		if !ok {
			poolStats = make(map[string]int)
			summary.ByPool[pool] = poolStats
		}
		poolStats[pg.State]++

		summary.All[pg.State]++
	}

	return summary, nil
}

// PoolID parses the pool number from a pgid such as "3.1f"
func PoolID(pgid string) (int, error) {
	prefix, _, _ := strings.Cut(pgid, ".")
	pool, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, errors.Errorf("invalid pgid %q", pgid)
	}
	return pool, nil
}

// SummaryDigest digests the canonical msgpack encoding of a summary.
// Map keys are sorted, so the token depends only on the counts.
func SummaryDigest(summary PGSummary) (string, error) {
	handle := &codec.MsgpackHandle{}
	handle.Canonical = true

	var buf []byte
	if err := codec.NewEncoderBytes(&buf, handle).Encode(summary); err != nil {
		return "", errors.Wrap(err, "encode pg summary")
	}
	return Digest(buf), nil
}

// PGSummaryVersion reduces a raw brief dump and returns the summary with its token
func PGSummaryVersion(raw []byte) (PGSummary, types.Version, error) {
	pgs, err := DecodePGBriefs(raw)
	if err != nil {
		return PGSummary{}, types.Version{}, err
	}
	summary, err := ReducePGSummary(pgs)
	if err != nil {
		return PGSummary{}, types.Version{}, err
	}
	digest, err := SummaryDigest(summary)
	if err != nil {
		return PGSummary{}, types.Version{}, err
	}
	return summary, types.DigestVersion(digest), nil
}

// RawVersion computes the version of a decoded payload for epoch and raw
// digest sync types. pg_summary must go through PGSummaryVersion instead.
func RawVersion(t types.SyncType, data map[string]any, raw []byte) (types.Version, error) {
	source, ok := VersionSource(t)
	if !ok {
		return types.Version{}, errors.Errorf("no version source for %q", t)
	}

	switch source {
	case SourceElectionEpoch:
		epoch, err := Epoch(data, "election_epoch")
		if err != nil {
			return types.Version{}, err
		}
		return types.EpochVersion(epoch), nil
	case SourceEpoch:
		epoch, err := Epoch(data, "epoch")
		if err != nil {
			return types.Version{}, err
		}
		return types.EpochVersion(epoch), nil
	case SourceRawDigest:
		digest, err := CanonicalDigest(raw)
		if err != nil {
			return types.Version{}, err
		}
		return types.DigestVersion(digest), nil
	default:
		return types.Version{}, errors.Errorf("%q is versioned by its reduced summary", t)
	}
}
