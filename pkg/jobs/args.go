package jobs

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/cuemby/monagent/pkg/types"
)

type getClusterObjectArgs struct {
	ClusterName string `json:"cluster_name"`
	SyncType    string `json:"sync_type"`
	Since       any    `json:"since"`
}

type radosCommandsArgs struct {
	FSID        string         `json:"fsid"`
	ClusterName string         `json:"cluster_name"`
	Commands    []RadosCommand `json:"commands"`
}

// RadosCommand is one entry of a ceph.rados_commands batch. It decodes from
// either {"prefix": ..., "args": {...}} or a [prefix, args] pair.
type RadosCommand struct {
	Prefix string         `json:"prefix"`
	Args   map[string]any `json:"args"`
}

type cephCommandArgs struct {
	ClusterName string   `json:"cluster_name"`
	Args        []string `json:"args"`
}

type rbdCommandArgs struct {
	PoolName string   `json:"pool_name"`
	Args     []string `json:"args"`
}

type clusterStatsArgs struct {
	ClusterName string `json:"cluster_name"`
}

type poolStatsArgs struct {
	ClusterName string  `json:"cluster_name"`
	PoolIDs     []int64 `json:"pool_ids"`
}

type waitArgs struct {
	Period float64 `json:"period"`
}

var radosCommandType = reflect.TypeOf(RadosCommand{})

// pairToCommand turns a [prefix, args] pair into the object form
func pairToCommand(from, to reflect.Type, data any) (any, error) {
	if to != radosCommandType {
		return data, nil
	}
	pair, ok := data.([]any)
	if !ok {
		return data, nil
	}
	if len(pair) != 2 {
		return nil, errors.Errorf("command pair must have 2 elements, got %d", len(pair))
	}
	return map[string]any{"prefix": pair[0], "args": pair[1]}, nil
}

// decodeArgs decodes loosely typed job arguments into out
func decodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       pairToCommand,
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           out,
	})
	if err != nil {
		return errors.Wrap(err, "create args decoder")
	}
	if err := decoder.Decode(args); err != nil {
		return errors.Wrap(err, "decode args")
	}
	return nil
}

// sinceVersion interprets the since hint of a fetch: numbers are epochs,
// strings are digests
func sinceVersion(since any) types.Version {
	switch v := since.(type) {
	case float64:
		return types.EpochVersion(int64(v))
	case int:
		return types.EpochVersion(int64(v))
	case int64:
		return types.EpochVersion(v)
	case string:
		return types.DigestVersion(v)
	default:
		return types.Version{}
	}
}
