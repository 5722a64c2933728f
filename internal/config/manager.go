// Package config resolves operation parameters from runtime values, the
// platform configuration document and SDK defaults.
package config

import (
	"fmt"
	"log/slog"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/dotpath"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/encryption"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/schema"
)

// Manager is the single source of configuration values for a session. It is
// read-only after construction and safe for concurrent use.
type Manager struct {
	doc      *Document
	schema   *schema.Validator
	contexts map[string]Context
	logger   *slog.Logger
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithSchema replaces the default validation rules.
func WithSchema(v *schema.Validator) Option {
	return func(m *Manager) { m.schema = v }
}

// WithContext registers an operation context, replacing a built-in one of
// the same name.
func WithContext(c Context) Option {
	return func(m *Manager) { m.contexts[c.Name] = c }
}

func newManager(opts []Option) (*Manager, error) {
	m := &Manager{contexts: DefaultContexts()}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	if m.schema == nil {
		v, err := schema.New()
		if err != nil {
			return nil, fmt.Errorf("failed to build schema validator: %w", err)
		}
		m.schema = v
	}
	return m, nil
}

// Load reads the configuration file at path, decrypting envelopes with key.
func Load(path string, key *encryption.Key, opts ...Option) (*Manager, error) {
	m, err := newManager(opts)
	if err != nil {
		return nil, err
	}
	doc, err := ReadDocument(path, key, m.schema)
	if err != nil {
		return nil, err
	}
	return m.use(doc), nil
}

// LoadBytes is Load for an in-memory document.
func LoadBytes(data []byte, key *encryption.Key, opts ...Option) (*Manager, error) {
	m, err := newManager(opts)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(data, key, m.schema)
	if err != nil {
		return nil, err
	}
	return m.use(doc), nil
}

// FromDocument wraps an already validated document. A nil document behaves
// as an empty one.
func FromDocument(doc *Document, opts ...Option) (*Manager, error) {
	m, err := newManager(opts)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = EmptyDocument()
	}
	return m.use(doc), nil
}

func (m *Manager) use(doc *Document) *Manager {
	m.doc = doc
	m.logger.Debug("configuration loaded",
		"source", doc.Source(),
		"empty", doc.Empty(),
		"encrypted", doc.Encrypted(),
	)
	return m
}

func (m *Manager) Document() *Document { return m.doc }

func (m *Manager) Schema() *schema.Validator { return m.schema }

// Contexts lists the operation contexts the manager can resolve, sorted.
func (m *Manager) Contexts() []string { return sortedContextNames(m.contexts) }

func (m *Manager) Context(name string) (Context, bool) {
	c, ok := m.contexts[name]
	return c, ok
}

// GetDefault returns a copy of the value at the dotted path under defaults,
// or fallback when any segment is absent.
func (m *Manager) GetDefault(path string, fallback any) any {
	v, ok := m.doc.Lookup(path)
	if !ok {
		return fallback
	}
	return dotpath.Clone(v)
}

func (m *Manager) GetString(path, fallback string) string {
	if s, ok := m.GetDefault(path, nil).(string); ok {
		return s
	}
	return fallback
}

func (m *Manager) GetInt(path string, fallback int) int {
	switch n := m.GetDefault(path, nil).(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		if n == float64(int(n)) {
			return int(n)
		}
	}
	return fallback
}

// GetStringSlice returns the string elements of a list value. Non-string
// elements are skipped.
func (m *Manager) GetStringSlice(path string) []string {
	l, ok := dotpath.AsList(m.GetDefault(path, nil))
	if !ok {
		return nil
	}
	out := make([]string, 0, len(l))
	for _, v := range l {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
