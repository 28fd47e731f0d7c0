package adminsocket

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// argDesc describes one element of a command signature. Literal words have
// only Prefix set.
type argDesc struct {
	Name    string
	Type    string
	Prefix  string
	Strings []string
	Many    bool
	Req     bool
}

type signature struct {
	Key  string
	Args []argDesc
}

// parseSignatures decodes a get_command_descriptions document. Signatures are
// returned in key order so matching is deterministic.
func parseSignatures(raw []byte) ([]signature, error) {
	var doc map[string]struct {
		Sig []json.RawMessage `json:"sig"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "decode command descriptions")
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sigs := make([]signature, 0, len(keys))
	for _, k := range keys {
		sig := signature{Key: k}
		for _, elem := range doc[k].Sig {
			desc, err := parseArgDesc(elem)
			if err != nil {
				return nil, errors.Wrapf(err, "command %s", k)
			}
			sig.Args = append(sig.Args, desc)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

func parseArgDesc(raw json.RawMessage) (argDesc, error) {
	var word string
	if err := json.Unmarshal(raw, &word); err == nil {
		return argDesc{Type: "CephPrefix", Prefix: word, Req: true}, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return argDesc{}, err
	}

	desc := argDesc{Req: true}
	desc.Name, _ = obj["name"].(string)
	desc.Type, _ = obj["type"].(string)
	desc.Prefix, _ = obj["prefix"].(string)
	if s, ok := obj["strings"].(string); ok && s != "" {
		desc.Strings = strings.Split(s, "|")
	}
	if n, ok := obj["n"].(string); ok && n == "N" {
		desc.Many = true
	}
	switch req := obj["req"].(type) {
	case string:
		desc.Req = req != "false"
	case bool:
		desc.Req = req
	}
	return desc, nil
}

// match binds the words of cmd to a signature and returns the request
// object, or false when the words do not fit.
func (s signature) match(cmd []string) (map[string]any, bool) {
	request := map[string]any{}
	var prefix []string
	i := 0

	for _, desc := range s.Args {
		if desc.Type == "CephPrefix" {
			if i >= len(cmd) || cmd[i] != desc.Prefix {
				return nil, false
			}
			prefix = append(prefix, desc.Prefix)
			i++
			continue
		}

		if i >= len(cmd) {
			if desc.Req {
				return nil, false
			}
			continue
		}

		if desc.Many {
			var values []any
			for ; i < len(cmd); i++ {
				v, ok := desc.convert(cmd[i])
				if !ok {
					return nil, false
				}
				values = append(values, v)
			}
			request[desc.Name] = values
			continue
		}

		v, ok := desc.convert(cmd[i])
		if !ok {
			if desc.Req {
				return nil, false
			}
			continue
		}
		request[desc.Name] = v
		i++
	}

	if i != len(cmd) || len(prefix) == 0 {
		return nil, false
	}
	request["prefix"] = strings.Join(prefix, " ")
	return request, true
}

func (d argDesc) convert(word string) (any, bool) {
	switch d.Type {
	case "CephInt":
		n, err := strconv.ParseInt(word, 10, 64)
		return n, err == nil
	case "CephFloat":
		f, err := strconv.ParseFloat(word, 64)
		return f, err == nil
	case "CephBool":
		b, err := strconv.ParseBool(word)
		return b, err == nil
	case "CephChoices":
		for _, s := range d.Strings {
			if s == word {
				return word, true
			}
		}
		return nil, false
	default:
		return word, true
	}
}

// validate finds the first signature that accepts cmd
func validate(sigs []signature, cmd []string) (map[string]any, bool) {
	for _, sig := range sigs {
		if request, ok := sig.match(cmd); ok {
			return request, true
		}
	}
	return nil, false
}
