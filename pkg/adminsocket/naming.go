package adminsocket

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
)

// DefaultCluster is the cluster name assumed for sockets without a prefix
const DefaultCluster = "ceph"

var (
	socketName    = regexp.MustCompile(`^(.*)-([^.]*)\.(.*)\.asok$`)
	devSocketName = regexp.MustCompile(`^(.*)\.(.*)\.asok$`)
)

// Endpoint identifies the daemon behind an admin socket
type Endpoint struct {
	Path    string
	Cluster string
	Type    string
	ID      string
}

// ParseName derives cluster, daemon type and id from a socket path such as
// /var/run/ceph/ceph-mon.a.asok. Development clusters name sockets without
// the cluster prefix (mon.a.asok); those belong to the "ceph" cluster.
func ParseName(path string) (Endpoint, bool) {
	base := filepath.Base(path)
	if m := socketName.FindStringSubmatch(base); m != nil {
		return Endpoint{Path: path, Cluster: m[1], Type: m[2], ID: m[3]}, true
	}
	if m := devSocketName.FindStringSubmatch(base); m != nil {
		return Endpoint{Path: path, Cluster: DefaultCluster, Type: m[1], ID: m[2]}, true
	}
	return Endpoint{}, false
}

// List returns the admin sockets in dir, sorted by path
func List(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.asok"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// MonSocket returns the first local mon socket of a cluster
func MonSocket(dir, cluster string) (string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, cluster+"-mon.*.asok"))
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("cannot find mon socket for %s in %s", cluster, dir)
	}
	sort.Strings(paths)
	return paths[0], nil
}
