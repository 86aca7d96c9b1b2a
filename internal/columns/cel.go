package columns

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sttts/kw/internal/resource"
)

var env = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("object", cel.DynType),
		cel.Variable("name", cel.StringType),
		cel.Variable("namespace", cel.StringType),
		cel.Variable("kind", cel.StringType),
		ext.Strings(),
		ext.Encoders(),
	)
})

func compile(src string) (cel.Program, error) {
	e, err := env()
	if err != nil {
		return nil, err
	}
	ast, iss := e.Compile(src)
	if iss.Err() != nil {
		return nil, iss.Err()
	}
	return e.Program(ast)
}

func eval(prg cel.Program, r resource.Resource) (ref.Val, error) {
	val, _, err := prg.Eval(map[string]any{
		"object":    r.Object(),
		"name":      r.Name(),
		"namespace": r.Namespace(),
		"kind":      r.Kind().Kind,
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Script is a compiled column expression.
type Script struct {
	src string
	prg cel.Program
}

// Compile compiles a CEL column expression.
func Compile(src string) (*Script, error) {
	prg, err := compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return &Script{src: src, prg: prg}, nil
}

// Evaluate runs the script. Scalar results are formatted; anything else is an error.
func (s *Script) Evaluate(r resource.Resource, _ time.Time) (string, error) {
	val, err := eval(s.prg, r)
	if err != nil {
		return "", err
	}
	switch v := val.(type) {
	case types.String:
		return string(v), nil
	case types.Int:
		return strconv.FormatInt(int64(v), 10), nil
	case types.Uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case types.Double:
		return strconv.FormatFloat(float64(v), 'f', -1, 64), nil
	case types.Bool:
		return strconv.FormatBool(bool(v)), nil
	case types.Null:
		return "", nil
	case types.Timestamp:
		return v.Time.Format(time.RFC3339), nil
	case types.Duration:
		return v.Duration.String(), nil
	}
	return "", fmt.Errorf("script %q returned non-scalar %s", s.src, val.Type().TypeName())
}

// Child is one value produced by an extractor.
type Child struct {
	ID    string
	Value any
}

// Extractor derives child resources from a resource's content.
type Extractor struct {
	Name string
	prg  cel.Program
}

// CompileExtractor compiles an extractor expression. The expression must
// evaluate to a list or a map.
func CompileExtractor(name, src string) (*Extractor, error) {
	if name == "" {
		return nil, fmt.Errorf("extractor without name")
	}
	if strings.Contains(name, resource.Separator) {
		return nil, fmt.Errorf("extractor name %q must not contain %q", name, resource.Separator)
	}
	prg, err := compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile extractor %q: %w", name, err)
	}
	return &Extractor{Name: name, prg: prg}, nil
}

// Extract returns the children of r. List elements get their index as id,
// map entries their key; map children are sorted by key.
func (e *Extractor) Extract(r resource.Resource) ([]Child, error) {
	val, err := eval(e.prg, r)
	if err != nil {
		return nil, fmt.Errorf("extractor %q: %w", e.Name, err)
	}
	native, err := val.ConvertToNative(reflect.TypeFor[*structpb.Value]())
	if err != nil {
		return nil, fmt.Errorf("extractor %q: %w", e.Name, err)
	}
	switch v := native.(*structpb.Value).AsInterface().(type) {
	case []any:
		children := make([]Child, 0, len(v))
		for i, item := range v {
			children = append(children, Child{ID: strconv.Itoa(i), Value: item})
		}
		return children, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		children := make([]Child, 0, len(v))
		for _, k := range keys {
			children = append(children, Child{ID: k, Value: v[k]})
		}
		return children, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("extractor %q returned %T, want list or map", e.Name, v)
	}
}
