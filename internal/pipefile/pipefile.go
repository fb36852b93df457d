// Package pipefile reads aggregation pipelines declared in YAML.
//
// A file names the source collection, optional pipeline options and a list
// of stages. Each stage is a single-key mapping whose key is the stage
// name without "$" and whose value mirrors the MongoDB stage body:
//
//	collection: books
//	options:
//	  collation: {locale: en, strength: 2}
//	stages:
//	  - match: {year: {$gte: 1900}}
//	  - group: {_id: $author, count: {$sum: 1}}
//	  - sort: {count: -1}
//	  - limit: 10
//
// Inside expressions, strings starting with "$" are field references,
// single-key mappings whose key starts with "$" are operator calls and
// everything else is a literal. Mapping order is preserved.
package pipefile

import (
	"errors"
	"fmt"

	"github.com/dosco/graphjin/aggregate/v3"
	"github.com/spf13/afero"
	"go.mongodb.org/mongo-driver/v2/bson"
	"gopkg.in/yaml.v3"
)

type file struct {
	Collection string      `yaml:"collection"`
	Options    fileOptions `yaml:"options"`
	Stages     []yaml.Node `yaml:"stages"`
}

type fileOptions struct {
	AllowDiskUse bool           `yaml:"allow_disk_use"`
	BatchSize    int32          `yaml:"batch_size"`
	Comment      string         `yaml:"comment"`
	Collation    *fileCollation `yaml:"collation"`
}

type fileCollation struct {
	Locale          string `yaml:"locale"`
	Strength        int    `yaml:"strength"`
	CaseLevel       bool   `yaml:"case_level"`
	CaseFirst       string `yaml:"case_first"`
	NumericOrdering bool   `yaml:"numeric_ordering"`
	Alternate       string `yaml:"alternate"`
	MaxVariable     string `yaml:"max_variable"`
	Backwards       bool   `yaml:"backwards"`
}

// Load reads and parses the pipeline file at path.
func Load(fs afero.Fs, path string) (aggregate.Pipeline, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return aggregate.Pipeline{}, fmt.Errorf("pipefile: %w", err)
	}
	return Parse(data)
}

// Parse builds a pipeline from YAML source.
func Parse(data []byte) (aggregate.Pipeline, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return aggregate.Pipeline{}, fmt.Errorf("pipefile: %w", err)
	}
	if f.Collection == "" {
		return aggregate.Pipeline{}, errors.New("pipefile: collection is required")
	}

	p := aggregate.New(f.Collection).WithOptions(f.Options.toOptions())

	for i := range f.Stages {
		s, err := parseStage(&f.Stages[i])
		if err != nil {
			return aggregate.Pipeline{}, fmt.Errorf("pipefile: stage %d: %w", i, err)
		}
		p = p.Then(s)
	}
	return p, nil
}

func (o fileOptions) toOptions() aggregate.Options {
	opts := aggregate.Options{
		AllowDiskUse: o.AllowDiskUse,
		BatchSize:    o.BatchSize,
		Comment:      o.Comment,
	}
	if c := o.Collation; c != nil {
		opts.Collation = &aggregate.Collation{
			Locale:          c.Locale,
			Strength:        aggregate.Strength(c.Strength),
			CaseLevel:       c.CaseLevel,
			CaseFirst:       c.CaseFirst,
			NumericOrdering: c.NumericOrdering,
			Alternate:       c.Alternate,
			MaxVariable:     c.MaxVariable,
			Backwards:       c.Backwards,
		}
	}
	return opts
}

// nodeValue converts a YAML node to plain values, keeping mapping order by
// returning bson.D for mappings.
func nodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return nodeValue(n.Content[0])
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.MappingNode:
		d := make(bson.D, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := nodeValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			d = append(d, bson.E{Key: n.Content[i].Value, Value: v})
		}
		return d, nil
	case yaml.SequenceNode:
		list := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeValue(c)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
