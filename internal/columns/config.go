package columns

import (
	"fmt"

	"k8s.io/apimachinery/pkg/runtime/schema"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/sttts/kw/pkg/appconfig"
)

// Config is the compiled form of the columns and extractors sections.
type Config struct {
	Columns    map[schema.GroupVersionKind][]ColumnSpec
	Extractors map[schema.GroupVersionKind][]*Extractor
}

// Build compiles cfg. All errors are collected; entries that fail are left out
// and the rest is still returned.
func Build(cfg *appconfig.Config) (*Config, error) {
	out := &Config{
		Columns:    map[schema.GroupVersionKind][]ColumnSpec{},
		Extractors: map[schema.GroupVersionKind][]*Extractor{},
	}
	var errs []error
	for _, kc := range cfg.Columns {
		gvk := kc.GroupVersionKind()
		specs := make([]ColumnSpec, 0, len(kc.Columns))
		ok := true
		for _, c := range kc.Columns {
			spec, err := buildColumn(c)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s column %q: %w", kc.Kind, c.Name, err))
				ok = false
				continue
			}
			specs = append(specs, spec)
		}
		if ok {
			out.Columns[gvk] = specs
		}
	}
	for _, ke := range cfg.Extractors {
		gvk := ke.GroupVersionKind()
		for _, x := range ke.Extractors {
			e, err := CompileExtractor(x.Name, x.Script)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", ke.Kind, err))
				continue
			}
			out.Extractors[gvk] = append(out.Extractors[gvk], e)
		}
	}
	return out, utilerrors.NewAggregate(errs)
}

func buildColumn(c appconfig.ColumnConfig) (ColumnSpec, error) {
	spec := ColumnSpec{Name: c.Name, Label: c.Label, Width: c.Width}
	switch {
	case c.Builtin != "" && c.Script != "":
		return spec, fmt.Errorf("builtin and script are mutually exclusive")
	case c.Builtin != "":
		e, err := Builtin(c.Builtin)
		if err != nil {
			return spec, err
		}
		spec.Eval = e
	case c.Script != "":
		s, err := Compile(c.Script)
		if err != nil {
			return spec, err
		}
		spec.Eval = s
	default:
		return spec, fmt.Errorf("neither builtin nor script set")
	}
	return spec, nil
}
