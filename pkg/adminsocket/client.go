// Package adminsocket talks to the admin sockets that Ceph daemons expose
// under /var/run/ceph.
package adminsocket

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/cuemby/monagent/pkg/agenterrors"
	"github.com/cuemby/monagent/pkg/log"
)

// DescriptionsCommand is the raw request that lists a daemon's commands
const DescriptionsCommand = "get_command_descriptions"

// MaxResponseSize bounds the length a daemon may announce for one response
const MaxResponseSize = 64 << 20

// Requester sends one command to a daemon admin socket
type Requester interface {
	Request(ctx context.Context, path string, cmd []string) ([]byte, error)
}

// Client is a Requester over unix domain sockets.
//
// Structured commands are validated against the daemon's command descriptions
// before they are sent. Descriptions are cached per socket path.
type Client struct {
	timeout      time.Duration
	descriptions *gocache.Cache
}

// NewClient creates an admin socket client. descriptionsTTL of zero disables
// description caching.
func NewClient(timeout, descriptionsTTL time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Client{timeout: timeout}
	if descriptionsTTL > 0 {
		c.descriptions = gocache.New(descriptionsTTL, 2*descriptionsTTL)
	}
	return c
}

// Request sends cmd to the daemon at path and returns the raw response.
// The single word get_command_descriptions is passed through unvalidated.
func (c *Client) Request(ctx context.Context, path string, cmd []string) ([]byte, error) {
	if len(cmd) == 1 && cmd[0] == DescriptionsCommand {
		return c.sockio(ctx, path, map[string]any{"prefix": DescriptionsCommand})
	}

	sigs, cached, err := c.signatures(ctx, path)
	if err != nil {
		return nil, err
	}

	request, ok := validate(sigs, cmd)
	if !ok && cached {
		// The daemon may have been upgraded since the descriptions were cached
		c.descriptions.Delete(path)
		if sigs, _, err = c.signatures(ctx, path); err != nil {
			return nil, err
		}
		request, ok = validate(sigs, cmd)
	}
	if !ok {
		return nil, &agenterrors.ErrAdminSocket{Path: path, Message: "invalid command"}
	}
	request["format"] = "json"

	return c.sockio(ctx, path, request)
}

// Invalidate drops cached descriptions for path
func (c *Client) Invalidate(path string) {
	if c.descriptions != nil {
		c.descriptions.Delete(path)
	}
}

func (c *Client) signatures(ctx context.Context, path string) ([]signature, bool, error) {
	if c.descriptions != nil {
		if v, ok := c.descriptions.Get(path); ok {
			return v.([]signature), true, nil
		}
	}

	raw, err := c.sockio(ctx, path, map[string]any{"prefix": DescriptionsCommand})
	if err != nil {
		return nil, false, &agenterrors.ErrAdminSocket{Path: path, Message: "get command descriptions", Err: err}
	}
	sigs, err := parseSignatures(raw)
	if err != nil {
		return nil, false, &agenterrors.ErrAdminSocket{Path: path, Message: "get command descriptions", Err: err}
	}

	if c.descriptions != nil {
		c.descriptions.SetDefault(path, sigs)
	}
	return sigs, false, nil
}

// sockio performs one request/response exchange: a NUL terminated JSON
// request, then a 4 byte big-endian length followed by the body.
func (c *Client) sockio(ctx context.Context, path string, request map[string]any) ([]byte, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, &agenterrors.ErrAdminSocket{Path: path, Message: "encode request", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, &agenterrors.ErrAdminSocket{Path: path, Message: "connect", Err: err}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(append(payload, 0)); err != nil {
		return nil, &agenterrors.ErrAdminSocket{Path: path, Message: "send request", Err: err}
	}

	var header [4]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return nil, &agenterrors.ErrAdminSocket{Path: path, Message: "no data returned", Err: err}
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxResponseSize {
		return nil, &agenterrors.ErrAdminSocket{
			Path:    path,
			Message: fmt.Sprintf("response of %d bytes exceeds %d byte limit", length, MaxResponseSize),
		}
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, &agenterrors.ErrAdminSocket{Path: path, Message: "short response", Err: err}
	}

	logger := log.WithComponent("adminsocket")
	logger.Debug().
		Str("path", path).
		Interface("prefix", request["prefix"]).
		Int("bytes", len(body)).
		Msg("Admin socket request completed")

	return body, nil
}
