package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/domain"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/dotpath"
	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
)

type mergeOptions struct {
	overrides map[string]any
}

type MergeOption func(*mergeOptions)

// WithOverrides layers session properties over the document: each key is a
// defaults path whose value replaces the file's value for this merge.
func WithOverrides(overrides map[string]any) MergeOption {
	return func(o *mergeOptions) { o.overrides = overrides }
}

// MergeWithRuntime resolves every known parameter of the named context.
// A runtime value wins over the configuration value, which wins over leaving
// the parameter unset for the SDK to default. Mappings merge leaf by leaf;
// lists and scalars are replaced whole. Nil runtime values count as unset.
func (m *Manager) MergeWithRuntime(runtime map[string]any, context string, opts ...MergeOption) (*domain.ResolvedParameterSet, error) {
	def, ok := m.contexts[context]
	if !ok {
		return nil, mlperrors.Validationf("context", "unknown operation context %q", context)
	}
	var o mergeOptions
	for _, opt := range opts {
		opt(&o)
	}

	configTree, err := m.configTier(def, o.overrides)
	if err != nil {
		return nil, err
	}

	known, extra := splitRuntime(def, prune(runtime))
	if err := m.checkRuntime(def, known); err != nil {
		return nil, err
	}

	origins := make(map[string]domain.Origin)
	values := deepMerge(known, configTree, "", origins)

	var (
		unset   []string
		missing []error
	)
	for _, p := range def.Parameters {
		if _, ok := dotpath.Lookup(values, p.Name); ok {
			continue
		}
		unset = append(unset, p.Name)
		if p.Required {
			missing = append(missing, mlperrors.Validationf(p.Name, "required parameter for %s could not be resolved from runtime, config or sdk defaults", context))
		}
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}
	sort.Strings(unset)

	m.logger.Debug("parameters resolved",
		"context", context,
		"resolved", len(origins),
		"extra", len(extra),
		"unset", len(unset),
	)

	return &domain.ResolvedParameterSet{
		Context: context,
		Values:  values,
		Origins: origins,
		Extra:   extra,
		Unset:   unset,
	}, nil
}

func (m *Manager) configTier(def Context, overrides map[string]any) (map[string]any, error) {
	tree := map[string]any{}
	for _, p := range def.Parameters {
		if p.ConfigPath == "" {
			continue
		}
		v, ok := overrides[p.ConfigPath]
		if !ok || v == nil {
			v, ok = m.doc.Lookup(p.ConfigPath)
		}
		if !ok || v == nil {
			continue
		}
		if err := dotpath.Set(tree, p.Name, dotpath.Clone(v)); err != nil {
			return nil, fmt.Errorf("context %s: parameter %s: %w", def.Name, p.Name, err)
		}
	}
	return tree, nil
}

func (m *Manager) checkRuntime(def Context, known map[string]any) error {
	var violations []error
	for _, p := range def.Parameters {
		if p.Tag == "" {
			continue
		}
		v, ok := dotpath.Lookup(known, p.Name)
		if !ok {
			continue
		}
		if err := m.schema.CheckValue(p.Name, v, false, p.Tag); err != nil {
			violations = append(violations, &mlperrors.Error{Kind: mlperrors.ErrValidation, Path: p.Name, Err: err})
		}
	}
	return errors.Join(violations...)
}

// splitRuntime separates runtime keys the context models from passthrough keys.
func splitRuntime(def Context, runtime map[string]any) (known, extra map[string]any) {
	roots := def.roots()
	known = map[string]any{}
	extra = map[string]any{}
	for k, v := range runtime {
		if roots[k] {
			known[k] = v
		} else {
			extra[k] = v
		}
	}
	return known, extra
}

// prune drops nil values from nested mappings so they fall through to the
// next tier.
func prune(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		if sub, ok := dotpath.AsMap(v); ok {
			out[k] = prune(sub)
			continue
		}
		out[k] = dotpath.Clone(v)
	}
	return out
}

func deepMerge(high, low map[string]any, prefix string, origins map[string]domain.Origin) map[string]any {
	out := make(map[string]any, len(high)+len(low))
	for k, lv := range low {
		if _, ok := high[k]; ok {
			continue
		}
		out[k] = dotpath.Clone(lv)
		record(origins, lv, dotpath.Join(prefix, k), domain.OriginConfig)
	}
	for k, hv := range high {
		path := dotpath.Join(prefix, k)
		hm, highIsMap := dotpath.AsMap(hv)
		lm, lowIsMap := dotpath.AsMap(low[k])
		if highIsMap && lowIsMap {
			out[k] = deepMerge(hm, lm, path, origins)
			continue
		}
		out[k] = dotpath.Clone(hv)
		record(origins, hv, path, domain.OriginRuntime)
	}
	return out
}

func record(origins map[string]domain.Origin, v any, path string, origin domain.Origin) {
	dotpath.Leaves(v, path, func(leaf string, _ any) {
		origins[leaf] = origin
	})
}
