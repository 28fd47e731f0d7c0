// Package rados provides sessions against a Ceph cluster's monitors.
//
// The Session interface mirrors the mon command primitive of librados: a
// command prefix plus an argument map goes in, a status, an output buffer and
// an error string come out. CLIConnector implements it on top of the ceph
// command line tool so the agent needs no cgo bindings.
package rados

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cuemby/monagent/pkg/cli"
	"github.com/cuemby/monagent/pkg/log"
)

// Connector opens sessions to named clusters
type Connector interface {
	Connect(ctx context.Context, cluster string, timeout time.Duration) (Session, error)
}

// Session executes mon commands against one cluster
type Session interface {
	// Execute runs prefix with args. A nonzero status reports a command
	// failure described by errText; err is reserved for transport failures.
	Execute(ctx context.Context, prefix string, args map[string]any, inbuf []byte, timeout time.Duration) (status int, payload []byte, errText string, err error)
	Close() error
}

// CLIConnector creates sessions that run each command through the ceph CLI
type CLIConnector struct {
	Runner     cli.Runner
	Binary     string
	ConfDir    string
	ClientName string
}

// NewCLIConnector creates a connector with the given defaults
func NewCLIConnector(runner cli.Runner, binary, confDir, clientName string) *CLIConnector {
	if binary == "" {
		binary = "ceph"
	}
	if clientName == "" {
		clientName = "client.admin"
	}
	return &CLIConnector{
		Runner:     runner,
		Binary:     binary,
		ConfDir:    confDir,
		ClientName: clientName,
	}
}

// Connect opens a session. The CLI connects per command, so this only checks
// that the cluster configuration is present.
func (c *CLIConnector) Connect(ctx context.Context, cluster string, timeout time.Duration) (Session, error) {
	if cluster == "" {
		return nil, errors.New("cluster name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var conf string
	if c.ConfDir != "" {
		conf = filepath.Join(c.ConfDir, cluster+".conf")
		if _, err := os.Stat(conf); err != nil {
			return nil, errors.Wrapf(err, "cluster %s configuration", cluster)
		}
	}

	logger := log.WithCluster(log.WithComponent("rados"), cluster)
	logger.Debug().
		Str("conf", conf).
		Dur("timeout", timeout).
		Msg("Opened CLI session")

	return &cliSession{
		connector: c,
		cluster:   cluster,
		conf:      conf,
		timeout:   timeout,
	}, nil
}

type cliSession struct {
	connector *CLIConnector
	cluster   string
	conf      string
	timeout   time.Duration
	closed    bool
}

// Execute renders the command into a ceph CLI invocation
func (s *cliSession) Execute(ctx context.Context, prefix string, args map[string]any, inbuf []byte, timeout time.Duration) (int, []byte, string, error) {
	if s.closed {
		return 0, nil, "", errors.New("session closed")
	}
	if timeout <= 0 {
		timeout = s.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	argv := s.argv(prefix, args, inbuf != nil, timeout)
	out, err := s.connector.Runner.Run(ctx, argv, inbuf)
	if err != nil {
		return 0, nil, "", errors.Wrapf(err, "execute %q", prefix)
	}
	if ctx.Err() != nil {
		return 0, nil, "", errors.Wrapf(ctx.Err(), "execute %q", prefix)
	}
	if out.Status != 0 {
		// ceph exits with the positive errno
		return -out.Status, []byte(out.Stdout), strings.TrimSpace(out.Stderr), nil
	}
	return 0, []byte(out.Stdout), strings.TrimSpace(out.Stderr), nil
}

func (s *cliSession) argv(prefix string, args map[string]any, stdin bool, timeout time.Duration) []string {
	c := s.connector
	argv := []string{c.Binary, "--cluster", s.cluster, "--name", c.ClientName}
	if s.conf != "" {
		argv = append(argv, "--conf", s.conf)
	}
	if timeout > 0 {
		secs := int(timeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		argv = append(argv, "--connect-timeout", strconv.Itoa(secs))
	}
	argv = append(argv, "--format", "json")
	argv = append(argv, strings.Fields(prefix)...)
	argv = append(argv, RenderArgs(prefix, args)...)
	if stdin {
		argv = append(argv, "-i", "-")
	}
	return argv
}

func (s *cliSession) Close() error {
	s.closed = true
	return nil
}

// RenderArgs flattens the argument map of prefix into positional CLI words.
// Keys follow the argument order of the command's signature, and keys the
// signature does not name come after in sorted order. The format key is
// dropped since the session always asks for JSON. An empty string value
// stands for a flag word and renders as the key itself, as in {"detail": ""}
// for "health detail".
func RenderArgs(prefix string, args map[string]any) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		if k == "format" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var words []string
	for _, k := range orderedKeys(prefix, args, keys) {
		switch v := args[k].(type) {
		case nil:
		case string:
			if v == "" {
				words = append(words, k)
			} else {
				words = append(words, v)
			}
		case []string:
			words = append(words, v...)
		case []any:
			for _, elem := range v {
				words = append(words, fmt.Sprint(elem))
			}
		case bool:
			if v {
				words = append(words, "--"+strings.ReplaceAll(k, "_", "-"))
			}
		case float64:
			words = append(words, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			words = append(words, fmt.Sprint(v))
		}
	}
	return words
}
