package filter

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter is a compiled filter expression
type Filter struct {
	expression string
	program    *vm.Program
	helpers    map[string]any
}

// CompilerOption configures a Compiler
type CompilerOption func(*Compiler)

// WithCache enables filter caching with the specified size
func WithCache(size int) CompilerOption {
	return func(c *Compiler) {
		if size > 0 {
			c.cache = newLRUCache(size)
		}
	}
}

// WithCustomFunctions adds custom helper functions
func WithCustomFunctions(funcs map[string]any) CompilerOption {
	return func(c *Compiler) {
		maps.Copy(c.helperFuncs, funcs)
	}
}

// Compiler compiles expr expressions into filters
type Compiler struct {
	helperFuncs map[string]any
	cache       *lruCache
}

// NewCompiler creates a new expr-based filter compiler
func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{helperFuncs: createHelperFunctions()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile compiles an expression into an executable filter
func (c *Compiler) Compile(expression string) (*Filter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, &CompilationError{
			Expression: expression,
			Reason:     "empty expression",
		}
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(expression); ok {
			return cached, nil
		}
	}

	program, err := expr.Compile(expression,
		expr.Env(c.helperFuncs),
		expr.AllowUndefinedVariables(), // record fields are only known at runtime
		expr.AsBool(),
	)
	if err != nil {
		return nil, &CompilationError{
			Expression: expression,
			Reason:     "failed to compile expression",
			Err:        err,
		}
	}

	filter := &Filter{
		expression: expression,
		program:    program,
		helpers:    c.helperFuncs,
	}
	if c.cache != nil {
		c.cache.Put(expression, filter)
	}
	return filter, nil
}

// Clear removes all cached filters
func (c *Compiler) Clear() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// Size returns the number of cached filters
func (c *Compiler) Size() int {
	if c.cache != nil {
		return c.cache.Len()
	}
	return 0
}

// Compile compiles expression without caching
func Compile(expression string) (*Filter, error) {
	return NewCompiler().Compile(expression)
}

// Expression returns the original expression
func (f *Filter) Expression() string {
	return f.expression
}

// Match evaluates the filter against a record
func (f *Filter) Match(record Record) (bool, error) {
	result, err := expr.Run(f.program, f.environment(record))
	if err != nil {
		return false, &EvaluationError{
			Expression: f.expression,
			Key:        record.Key,
			Reason:     "failed to run expression",
			Err:        err,
		}
	}
	// Undefined fields evaluate to nil
	matched, _ := result.(bool)
	return matched, nil
}

var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// environment exposes the helpers, the record as Key and Item and, for
// object records, every field that is a valid identifier
func (f *Filter) environment(record Record) map[string]any {
	env := make(map[string]any, len(f.helpers)+32)
	maps.Copy(env, f.helpers)

	fields, _ := record.Value.(map[string]any)
	for name, value := range fields {
		if identifierRegex.MatchString(name) {
			env[name] = value
		}
	}

	env["Key"] = record.Key
	env["Item"] = record.Value
	env["hasTag"] = createHasTagFunc(fields)
	return env
}

// createHelperFunctions creates the static helper functions used during compilation
func createHelperFunctions() map[string]any {
	funcs := make(map[string]any, 16)

	// Dates are unix timestamps as reported by the daemons
	funcs["now"] = func() int64 {
		return time.Now().Unix()
	}
	funcs["daysSince"] = func(timestamp any) int {
		return int(time.Since(time.Unix(int64(toFloat(timestamp)), 0)).Hours() / 24)
	}
	funcs["daysAgo"] = func(days any) int64 {
		return time.Now().Add(-time.Duration(toFloat(days) * 24 * float64(time.Hour))).Unix()
	}
	funcs["parseDate"] = func(date string) int64 {
		t, _ := time.Parse("2006-01-02", date)
		return t.Unix()
	}

	// Sizes in bytes
	funcs["KiB"] = func(n any) float64 { return toFloat(n) * (1 << 10) }
	funcs["MiB"] = func(n any) float64 { return toFloat(n) * (1 << 20) }
	funcs["GiB"] = func(n any) float64 { return toFloat(n) * (1 << 30) }
	funcs["TiB"] = func(n any) float64 { return toFloat(n) * (1 << 40) }

	// String helpers; contains, startsWith and endsWith are operators
	funcs["containsFold"] = func(str, substr string) bool {
		return strings.Contains(strings.ToLower(str), strings.ToLower(substr))
	}
	funcs["hasPrefixFold"] = func(str, prefix string) bool {
		return strings.HasPrefix(strings.ToLower(str), strings.ToLower(prefix))
	}
	funcs["hasSuffixFold"] = func(str, suffix string) bool {
		return strings.HasSuffix(strings.ToLower(str), strings.ToLower(suffix))
	}
	funcs["lower"] = strings.ToLower
	funcs["upper"] = strings.ToUpper

	// Placeholder for type checking, replaced per record
	funcs["hasTag"] = func(tag string) bool { return false }
	return funcs
}

// createHasTagFunc matches against the tags of a record. qBittorrent sends
// them as a comma separated string, Transmission as a list of labels and
// Deluge as a single label.
func createHasTagFunc(fields map[string]any) func(string) bool {
	var tags []string
	for _, name := range []string{"tags", "labels", "label", "category"} {
		switch v := fields[name].(type) {
		case string:
			for _, tag := range strings.Split(v, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					tags = append(tags, strings.ToLower(tag))
				}
			}
		case []any:
			for _, tag := range v {
				tags = append(tags, strings.ToLower(fmt.Sprint(tag)))
			}
		}
	}
	return func(tag string) bool {
		return slices.Contains(tags, strings.ToLower(tag))
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
