// Package probe discovers the Ceph daemons running on this host through their
// admin sockets and builds the per-round heartbeat reports: one server
// heartbeat describing the host, plus a version summary of every cluster that
// has an in-quorum mon here.
package probe
