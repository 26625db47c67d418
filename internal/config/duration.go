package config

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ParseDuration accepts a Go duration ("90s", "1m30s") or a bare number of
// seconds ("60", "2.5"). Every timeout setting goes through it, whatever its
// source.
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// durationValue is a flag.Value backed by ParseDuration.
type durationValue struct{ p *time.Duration }

func (d durationValue) String() string {
	if d.p == nil {
		return ""
	}
	return d.p.String()
}

func (d durationValue) Set(v string) error {
	n, err := ParseDuration(v)
	if err != nil {
		return err
	}
	*d.p = n
	return nil
}

// decodeYAML unmarshals b into out. Bare numbers under durationKeys are read
// as seconds, as they are for environment variables and flags.
func decodeYAML(b []byte, out any, durationKeys ...string) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	if len(doc.Content) == 0 {
		return nil
	}
	if root := doc.Content[0]; root.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(root.Content); i += 2 {
			k, v := root.Content[i], root.Content[i+1]
			if v.Kind != yaml.ScalarNode || !slices.Contains(durationKeys, k.Value) {
				continue
			}
			if _, err := strconv.ParseFloat(v.Value, 64); err == nil {
				v.Tag = "!!str"
				v.Value += "s"
			}
		}
	}
	return doc.Decode(out)
}
