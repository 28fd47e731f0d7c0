package jobs

import (
	"context"

	"github.com/pkg/errors"

	"github.com/cuemby/monagent/pkg/fetcher"
	"github.com/cuemby/monagent/pkg/types"
)

const setCrushMapPrefix = "osd setcrushmap"

// BatchResult is the outcome of a ceph.rados_commands job. Versions are read
// after the batch, whether or not it completed, so the caller knows which
// map versions will reflect its changes.
type BatchResult struct {
	Error       bool                             `json:"error" yaml:"error"`
	Results     []any                            `json:"results" yaml:"results"`
	ErrorStatus string                           `json:"error_status" yaml:"error_status"`
	Versions    map[types.SyncType]types.Version `json:"versions" yaml:"versions"`
	FSID        string                           `json:"fsid" yaml:"fsid"`
}

func (r *Runner) radosCommands(ctx context.Context, raw map[string]any) (any, error) {
	var args radosCommandsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return r.RunBatch(ctx, args.FSID, args.ClusterName, args.Commands)
}

// RunBatch executes commands strictly in order and stops at the first one
// that fails. A crush map that does not compile aborts the batch with an
// error before anything is submitted for that command.
func (r *Runner) RunBatch(ctx context.Context, fsid, cluster string, commands []RadosCommand) (*BatchResult, error) {
	session, err := r.fetcher.Connect(ctx, cluster)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	result := &BatchResult{
		Results: []any{},
		FSID:    fsid,
	}

	for _, cmd := range commands {
		argdict := make(map[string]any, len(cmd.Args)+1)
		var inbuf []byte

		if cmd.Prefix == setCrushMapPrefix {
			text, _ := cmd.Args["data"].(string)
			compiled, err := r.compiler.Compile(ctx, []byte(text))
			if err != nil {
				return nil, errors.Wrap(err, "osd setcrushmap")
			}
			inbuf = compiled
		} else {
			for k, v := range cmd.Args {
				argdict[k] = v
			}
		}
		argdict["format"] = "json"

		status, payload, errText, err := session.Execute(ctx, cmd.Prefix, argdict, inbuf, r.fetcher.Timeout())
		if err != nil {
			status, errText = -1, err.Error()
		}
		if status != 0 {
			r.logger.Warn().
				Str("prefix", cmd.Prefix).
				Int("status", status).
				Str("error", errText).
				Msg("Batch stopped at failing command")
			result.Error = true
			result.ErrorStatus = errText
			break
		}

		decoded, err := fetcher.Decode(cmd.Prefix, payload)
		if err != nil {
			return nil, err
		}
		result.Results = append(result.Results, decoded)
	}

	status, err := r.fetcher.ClusterStatus(ctx, session, cluster)
	if err != nil {
		return nil, errors.Wrap(err, "read map versions after batch")
	}
	result.Versions = status.Versions

	return result, nil
}
