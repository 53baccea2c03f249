package tables

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/loadengine/internal/core"
)

// Document is the YAML form of an entity set.
//
//	entities:
//	  - name: sellers
//	    primary_key: seller_id
//	    required: [seller_name]
//	    key_alias: id
//	    columns:
//	      - {name: seller_id, type: integer}
//	      - {name: seller_name}
type Document struct {
	Entities []EntityDoc `yaml:"entities"`
}

// EntityDoc is the YAML form of one entity.
type EntityDoc struct {
	Name          string            `yaml:"name"`
	PrimaryKey    string            `yaml:"primary_key"`
	Required      []string          `yaml:"required,omitempty"`
	Columns       []core.Column     `yaml:"columns"`
	ForeignKeys   []core.ForeignKey `yaml:"foreign_keys,omitempty"`
	KeyAlias      string            `yaml:"key_alias,omitempty"`
	SynthesizeKey bool              `yaml:"synthesize_key,omitempty"`
}

// LoadYAML builds a registry from a YAML document.
// Unknown fields are rejected so typos surface instead of being ignored.
func LoadYAML(r io.Reader) (*core.Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("schema document is empty")
		}
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if len(doc.Entities) == 0 {
		return nil, errors.New("schema document declares no entities")
	}

	entities := make([]core.Entity, len(doc.Entities))
	for i, d := range doc.Entities {
		entities[i] = core.Entity{
			Name:          d.Name,
			PrimaryKey:    d.PrimaryKey,
			Required:      d.Required,
			Columns:       d.Columns,
			ForeignKeys:   d.ForeignKeys,
			KeyAlias:      d.KeyAlias,
			SynthesizeKey: d.SynthesizeKey,
		}
	}

	reg, err := core.NewRegistry(entities...)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return reg, nil
}

// LoadYAMLFile reads a YAML schema document from fs.
func LoadYAMLFile(fs afero.Fs, path string) (*core.Registry, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	reg, err := LoadYAML(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// EncodeYAML writes reg as a YAML document in dependency order.
// The output is accepted by LoadYAML.
func EncodeYAML(w io.Writer, reg *core.Registry) error {
	var doc Document
	for _, e := range reg.All() {
		d := EntityDoc{
			Name:          e.Name,
			PrimaryKey:    e.PrimaryKey,
			Columns:       e.Columns,
			ForeignKeys:   e.ForeignKeys,
			KeyAlias:      e.KeyAlias,
			SynthesizeKey: e.SynthesizeKey,
		}
		for _, req := range e.Required {
			if req != e.PrimaryKey {
				d.Required = append(d.Required, req)
			}
		}
		doc.Entities = append(doc.Entities, d)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	return enc.Close()
}
