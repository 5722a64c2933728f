package domain

import "github.com/aws-samples/genai-ml-platform-examples-sub000/internal/dotpath"

// Origin names the source a resolved value came from.
type Origin string

const (
	OriginRuntime    Origin = "runtime"
	OriginConfig     Origin = "config"
	OriginSDKDefault Origin = "sdk_default"
)

// ResolvedParameterSet is the result of merging runtime parameters with
// configuration defaults for one operation context.
//
// Values holds the known parameters of the context as a nested tree keyed by
// parameter name. Origins maps the dotted path of every resolved leaf to its
// source. Extra carries runtime parameters the context does not model, and
// Unset lists known parameters left for the downstream SDK to default.
type ResolvedParameterSet struct {
	Context string
	Values  map[string]any
	Origins map[string]Origin
	Extra   map[string]any
	Unset   []string
}

// Get returns the resolved value at a dotted parameter path.
func (r *ResolvedParameterSet) Get(name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	return dotpath.Lookup(r.Values, name)
}

// Origin reports where name was resolved from. Parameters that were never
// resolved report OriginSDKDefault.
func (r *ResolvedParameterSet) Origin(name string) Origin {
	if r != nil {
		if o, ok := r.Origins[name]; ok {
			return o
		}
	}
	return OriginSDKDefault
}

// Params flattens the set into the keyword map handed to the platform SDK:
// resolved values first, then extra passthrough keys that do not collide.
func (r *ResolvedParameterSet) Params() map[string]any {
	out := dotpath.CloneMap(r.Values)
	for k, v := range r.Extra {
		if _, ok := out[k]; !ok {
			out[k] = dotpath.Clone(v)
		}
	}
	return out
}
