/*
Package fetcher retrieves versioned cluster objects from a Ceph cluster.

Eight object types are synchronized. Each is returned together with a version
token so a remote controller can tell whether its copy is current:

	mon_status, quorum_status   election_epoch        (ordered)
	mon_map, osd_map, mds_map   map epoch             (ordered)
	pg_summary                  digest of summary     (equality only)
	health, config              digest of payload     (equality only)

The configuration is not a cluster command: it is read with "config show"
through the admin socket of a mon running on this host.

# OSD map

An osd_map record is assembled from several queries. After "osd dump" the
fetcher reads "osd tree" and "osd getcrushmap" at the epoch of the dump, so
the three agree. "osd crush dump" has no epoch parameter and may come from a
newer map. The compiled crush map is decompiled to text before it is stored
under crush_map_text.

Finally "osd metadata" is queried once per OSD listed in the dump. Those
queries fail for OSDs that are down on an unhealthy cluster; a failed entry is
left out of osd_metadata and the fetch still succeeds.

# Cluster status

ClusterStatus produces the per-cluster heartbeat: it reads only the versions
of the eight types, which is much cheaper than fetching the objects
themselves.
*/
package fetcher
