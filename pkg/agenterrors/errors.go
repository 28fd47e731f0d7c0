// Package agenterrors contains the error types returned by the agent's cluster,
// job and subscriber layers.
//
// Callers should match on these types with errors.As rather than comparing
// messages; the job layer relies on that to tell caller errors (unknown object
// type, unsupported command) apart from cluster failures.
package agenterrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrClusterUnavailable is returned when a session to the cluster cannot be
// established within the configured timeout.
type ErrClusterUnavailable struct {
	Cluster string
	Err     error
}

func (err *ErrClusterUnavailable) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("cluster %q unavailable: %s", err.Cluster, err.Err)
	}
	return fmt.Sprintf("cluster %q unavailable", err.Cluster)
}

func (err *ErrClusterUnavailable) Unwrap() error {
	return err.Err
}

// ErrCommand is returned when a cluster command exits with a nonzero status or
// produces a payload that cannot be decoded.
type ErrCommand struct {
	Prefix  string // Command prefix, e.g. "osd dump"
	Status  int    // Status returned by the cluster, 0 when the payload was malformed
	Message string // Error text returned by the cluster or the decoder
}

func (err *ErrCommand) Error() string {
	if err.Status != 0 {
		return fmt.Sprintf("command %q failed with status %d: %s", err.Prefix, err.Status, err.Message)
	}
	return fmt.Sprintf("command %q: %s", err.Prefix, err.Message)
}

// ErrUnknownObjectType is returned when a fetch asks for a type outside the
// fixed enumeration of sync types. No collaborator is called.
type ErrUnknownObjectType struct {
	Type string
}

func (err *ErrUnknownObjectType) Error() string {
	return fmt.Sprintf("unknown cluster object type %q", err.Type)
}

// ErrUnsupportedCommand is returned for job command names the runner does not
// know. No collaborator is called.
type ErrUnsupportedCommand struct {
	Command string
}

func (err *ErrUnsupportedCommand) Error() string {
	return fmt.Sprintf("unsupported command %q", err.Command)
}

// ErrAgentUnreachable is returned when a job targets an agent other than the
// local one.
type ErrAgentUnreachable struct {
	Target string
	Local  string
}

func (err *ErrAgentUnreachable) Error() string {
	return fmt.Sprintf("agent %q unreachable from %q", err.Target, err.Local)
}

// ErrAdminSocket is returned for transport or validation failures on a daemon
// admin socket.
type ErrAdminSocket struct {
	Path    string
	Message string
	Err     error
}

func (err *ErrAdminSocket) Error() string {
	s := fmt.Sprintf("admin socket %s: %s", err.Path, err.Message)
	if err.Err != nil {
		s = s + ": " + err.Err.Error()
	}
	return s
}

func (err *ErrAdminSocket) Unwrap() error {
	return err.Err
}

// IsClusterUnavailable reports whether err wraps an ErrClusterUnavailable
func IsClusterUnavailable(err error) bool {
	var e *ErrClusterUnavailable
	return errors.As(err, &e)
}

// IsCommand reports whether err wraps an ErrCommand
func IsCommand(err error) bool {
	var e *ErrCommand
	return errors.As(err, &e)
}

// IsUnknownObjectType reports whether err wraps an ErrUnknownObjectType
func IsUnknownObjectType(err error) bool {
	var e *ErrUnknownObjectType
	return errors.As(err, &e)
}

// IsUnsupportedCommand reports whether err wraps an ErrUnsupportedCommand
func IsUnsupportedCommand(err error) bool {
	var e *ErrUnsupportedCommand
	return errors.As(err, &e)
}

// IsAgentUnreachable reports whether err wraps an ErrAgentUnreachable
func IsAgentUnreachable(err error) bool {
	var e *ErrAgentUnreachable
	return errors.As(err, &e)
}

// IsAdminSocket reports whether err wraps an ErrAdminSocket
func IsAdminSocket(err error) bool {
	var e *ErrAdminSocket
	return errors.As(err, &e)
}

// IsCallerError reports whether err was caused by an invalid request rather
// than by the cluster.
func IsCallerError(err error) bool {
	return IsUnknownObjectType(err) || IsUnsupportedCommand(err) || IsAgentUnreachable(err)
}
