package policy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// fileDoc is the on-disk shape of a policy table:
//
//	policies:
//	  - topic: weather
//	    keywords: [weather, forecast]
//	    ttl: 1h
//	  - topic: static knowledge
//	    ttl: 24h
//	    fallback: true
type fileDoc struct {
	Policies []filePolicy `yaml:"policies" toml:"policies"`
}

type filePolicy struct {
	Topic    string   `yaml:"topic" toml:"topic"`
	Keywords []string `yaml:"keywords" toml:"keywords"`
	TTL      string   `yaml:"ttl" toml:"ttl"`
	Fallback bool     `yaml:"fallback" toml:"fallback"`
}

// LoadFile reads a policy table from a YAML (.yaml, .yml) or TOML (.toml) file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data, strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
}

// Parse decodes a policy table in the given format ("yaml", "yml" or "toml").
func Parse(data []byte, format string) (*Table, error) {
	var doc fileDoc
	switch format {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode yaml policy: %w", err)
		}
	case "toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode toml policy: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported policy format %q", format)
	}

	policies := make([]Policy, 0, len(doc.Policies))
	for _, fp := range doc.Policies {
		ttl, err := time.ParseDuration(fp.TTL)
		if err != nil {
			return nil, fmt.Errorf("policy %q: parse ttl: %w", fp.Topic, err)
		}
		policies = append(policies, Policy{
			Topic:    fp.Topic,
			Keywords: fp.Keywords,
			TTL:      ttl,
			Fallback: fp.Fallback,
		})
	}
	return NewTable(policies)
}

// Marshal encodes t as YAML in the format LoadFile accepts.
func Marshal(t *Table) ([]byte, error) {
	doc := fileDoc{}
	for _, p := range t.Policies() {
		doc.Policies = append(doc.Policies, filePolicy{
			Topic:    p.Topic,
			Keywords: p.Keywords,
			TTL:      p.TTL.String(),
			Fallback: p.Fallback,
		})
	}
	return yaml.Marshal(doc)
}
