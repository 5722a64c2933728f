package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/dotpath"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/encryption"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/schema"
	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
)

// DefaultsKey is the top-level key holding the platform defaults.
const DefaultsKey = "defaults"

// Document is a decrypted, validated configuration tree. It is never
// modified after construction.
type Document struct {
	tree      map[string]any
	source    string
	encrypted bool
}

// EmptyDocument is what a missing configuration file loads as: every lookup
// falls through.
func EmptyDocument() *Document {
	return &Document{tree: map[string]any{}}
}

// ReadDocument loads the YAML file at path. A missing file is not an error
// and yields an empty document.
func ReadDocument(path string, key *encryption.Key, v *schema.Validator) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			doc := EmptyDocument()
			doc.source = path
			return doc, nil
		}
		return nil, mlperrors.WrapConfiguration(path, fmt.Errorf("failed to read config file: %w", err))
	}
	doc, err := ParseDocument(data, key, v)
	if err != nil {
		return nil, err
	}
	doc.source = path
	return doc, nil
}

// ParseDocument parses YAML bytes into a Document.
func ParseDocument(data []byte, key *encryption.Key, v *schema.Validator) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, mlperrors.WrapConfiguration("", fmt.Errorf("failed to parse config document: %w", err))
	}
	if raw == nil {
		return EmptyDocument(), nil
	}
	tree, ok := dotpath.AsMap(raw)
	if !ok {
		return nil, mlperrors.Configurationf("", "config document must be a mapping")
	}
	return NewDocument(tree, key, v)
}

// NewDocument builds a Document from an already-parsed tree. Envelopes are
// decrypted with key and the defaults section is validated with v, or with
// the default rules when v is nil.
func NewDocument(tree map[string]any, key *encryption.Key, v *schema.Validator) (*Document, error) {
	doc := &Document{}
	tree = dotpath.CloneMap(tree)

	if encryption.ContainsEnvelopes(tree) {
		decrypted, err := encryption.DecryptDocument(tree, key)
		if err != nil {
			return nil, err
		}
		tree = decrypted
		doc.encrypted = true
	}
	if len(tree) == 0 {
		doc.tree = tree
		return doc, nil
	}

	rawDefaults := tree[DefaultsKey]
	defaults, ok := dotpath.AsMap(rawDefaults)
	if !ok && rawDefaults != nil {
		return nil, mlperrors.Configurationf(DefaultsKey, "section must be a mapping")
	}
	if defaults == nil {
		defaults = map[string]any{}
	}
	tree[DefaultsKey] = defaults

	if v == nil {
		var err error
		if v, err = schema.New(); err != nil {
			return nil, mlperrors.WrapConfiguration("", err)
		}
	}
	if err := v.Validate(defaults); err != nil {
		return nil, err
	}

	doc.tree = tree
	return doc, nil
}

func (d *Document) Source() string { return d.source }

// Encrypted reports whether any field was stored as an envelope.
func (d *Document) Encrypted() bool { return d.encrypted }

func (d *Document) Empty() bool { return len(d.tree) == 0 }

// Tree returns a deep copy of the whole document.
func (d *Document) Tree() map[string]any { return dotpath.CloneMap(d.tree) }

func (d *Document) defaults() map[string]any {
	m, _ := dotpath.AsMap(d.tree[DefaultsKey])
	return m
}

// Lookup resolves a dotted path relative to the defaults section.
func (d *Document) Lookup(path string) (any, bool) {
	defaults := d.defaults()
	if defaults == nil {
		return nil, false
	}
	return dotpath.Lookup(defaults, path)
}
