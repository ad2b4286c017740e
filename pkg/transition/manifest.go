package transition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is a declarative set of rule definitions, typically kept in a
// YAML file and registered at bootstrap.
//
//	rules:
//	  - entity_type: document
//	    status_field: verification_status
//	    transitions:
//	      submit: {from: [pending], to: submitted}
//	      verify: {from: submitted, to: verified}
type Manifest struct {
	Rules []ManifestEntry `yaml:"rules"`
}

// ManifestEntry holds the transitions of one entity type's status field.
type ManifestEntry struct {
	EntityType  string      `yaml:"entity_type"`
	StatusField string      `yaml:"status_field"`
	Transitions Definitions `yaml:"transitions"`
}

// UnmarshalYAML accepts either a single state or a list of states for "from".
func (d *Definition) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		From yaml.Node `yaml:"from"`
		To   string    `yaml:"to"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	d.To = raw.To
	d.From = nil
	switch raw.From.Kind {
	case 0:
		return nil
	case yaml.ScalarNode:
		var state string
		if err := raw.From.Decode(&state); err != nil {
			return err
		}
		d.From = []string{state}
		return nil
	case yaml.SequenceNode:
		return raw.From.Decode(&d.From)
	default:
		return fmt.Errorf("line %d: \"from\" must be a state or a list of states", raw.From.Line)
	}
}

// LoadManifest decodes a YAML manifest.
func LoadManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Manifest{}, nil
		}
		return Manifest{}, errors.Join(ErrInvalidDefinition, err)
	}
	return m, nil
}

// LoadManifestFile reads and decodes a YAML manifest file.
func LoadManifestFile(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return LoadManifest(f)
}

// RegisterManifest registers every entry of the manifest. Entries are
// independent: the errors of all entries are joined and returned together.
func (r *Registry) RegisterManifest(ctx context.Context, m Manifest) error {
	var errs []error
	for _, entry := range m.Rules {
		if err := r.Register(ctx, entry.EntityType, entry.StatusField, entry.Transitions); err != nil {
			if IsPersistenceError(err) {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
