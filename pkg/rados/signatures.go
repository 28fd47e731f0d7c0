package rados

// argOrder lists the positional arguments of mon commands in the order their
// signatures declare them. Keys missing from a request are skipped.
var argOrder = map[string][]string{
	"auth get":                    {"entity"},
	"config get":                  {"who", "key"},
	"config rm":                   {"who", "name"},
	"config set":                  {"who", "name", "value"},
	"health":                      {"detail"},
	"mon dump":                    {"epoch"},
	"osd crush add":               {"id", "weight", "args"},
	"osd crush add-bucket":        {"name", "type", "args"},
	"osd crush move":              {"name", "args"},
	"osd crush remove":            {"name", "ancestor"},
	"osd crush reweight":          {"name", "weight"},
	"osd crush rm":                {"name", "ancestor"},
	"osd crush set":               {"id", "weight", "args"},
	"osd deep-scrub":              {"who"},
	"osd down":                    {"ids"},
	"osd dump":                    {"epoch"},
	"osd in":                      {"ids"},
	"osd map":                     {"pool", "object", "nspace"},
	"osd metadata":                {"id"},
	"osd out":                     {"ids"},
	"osd pool application enable": {"pool", "app"},
	"osd pool create":             {"pool", "pg_num", "pgp_num", "pool_type", "erasure_code_profile", "rule", "expected_num_objects"},
	"osd pool delete":             {"pool", "pool2"},
	"osd pool get":                {"pool", "var"},
	"osd pool mksnap":             {"pool", "snap"},
	"osd pool rename":             {"srcpool", "destpool"},
	"osd pool rmsnap":             {"pool", "snap"},
	"osd pool set":                {"pool", "var", "val"},
	"osd pool set-quota":          {"pool", "field", "val"},
	"osd repair":                  {"who"},
	"osd reweight":                {"id", "weight"},
	"osd rm":                      {"ids"},
	"osd scrub":                   {"who"},
	"osd set":                     {"key"},
	"osd tree":                    {"epoch"},
	"osd unset":                   {"key"},
	"pg deep-scrub":               {"pgid"},
	"pg dump":                     {"dumpcontents"},
	"pg repair":                   {"pgid"},
	"pg scrub":                    {"pgid"},
}

// orderedKeys returns the keys of args in signature order for prefix, followed
// by any remaining keys in sorted order
func orderedKeys(prefix string, args map[string]any, sorted []string) []string {
	declared := argOrder[prefix]
	if len(declared) == 0 {
		return sorted
	}

	keys := make([]string, 0, len(sorted))
	seen := make(map[string]bool, len(declared))
	for _, k := range declared {
		if _, ok := args[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	for _, k := range sorted {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	return keys
}
