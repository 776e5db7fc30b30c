package performance

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/stampede/internal/performance/config"
)

// Check is a named, compiled assertion on a response. Evaluate is a pure
// function of the response and safe for concurrent use.
type Check struct {
	Name string
	eval func(resp *Response) bool
}

// NewCheck builds a check from a predicate.
func NewCheck(name string, fn func(resp *Response) bool) *Check {
	return &Check{Name: name, eval: fn}
}

// Evaluate runs the check. A nil response (transport failure) fails it.
func (c *Check) Evaluate(resp *Response) bool {
	if resp == nil {
		return false
	}
	return c.eval(resp)
}

// CompileCheck compiles a check definition. Patterns and schemas are
// compiled once here rather than per response.
func CompileCheck(cfg config.CheckConfig) (*Check, error) {
	name := cfg.Name
	if name == "" {
		name = cfg.Type
	}

	switch cfg.Type {
	case "status":
		cmp, err := newComparator(cfg.Condition, cfg.Value)
		if err != nil {
			return nil, err
		}
		return NewCheck(name, func(resp *Response) bool {
			return cmp.number(float64(resp.StatusCode))
		}), nil

	case "duration":
		limit, err := parseDurationValue(cfg.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: check %q: %v", config.ErrInvalidConfig, name, err)
		}
		cmp, err := newComparator(cfg.Condition, strconv.FormatInt(int64(limit), 10))
		if err != nil {
			return nil, err
		}
		return NewCheck(name, func(resp *Response) bool {
			return cmp.number(float64(resp.Duration))
		}), nil

	case "body":
		cmp, err := newComparator(cfg.Condition, cfg.Value)
		if err != nil {
			return nil, err
		}
		return NewCheck(name, func(resp *Response) bool {
			return cmp.text(string(resp.Body), true)
		}), nil

	case "header":
		cmp, err := newComparator(cfg.Condition, cfg.Value)
		if err != nil {
			return nil, err
		}
		key := cfg.Path
		return NewCheck(name, func(resp *Response) bool {
			values := resp.Header.Values(key)
			return cmp.text(strings.Join(values, ", "), len(values) > 0)
		}), nil

	case "jsonpath":
		cmp, err := newComparator(cfg.Condition, cfg.Value)
		if err != nil {
			return nil, err
		}
		path := GJSONPath(cfg.Path)
		return NewCheck(name, func(resp *Response) bool {
			result := gjson.GetBytes(resp.Body, path)
			return cmp.text(result.String(), result.Exists())
		}), nil

	case "schema":
		schema, err := compileSchema(cfg.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: check %q: %v", config.ErrInvalidConfig, name, err)
		}
		return NewCheck(name, func(resp *Response) bool {
			var doc interface{}
			if err := json.Unmarshal(resp.Body, &doc); err != nil {
				return false
			}
			return schema.Validate(doc) == nil
		}), nil

	default:
		return nil, fmt.Errorf("%w: unknown check type %q", config.ErrInvalidConfig, cfg.Type)
	}
}

func compileSchema(src string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return schema, nil
}

// parseDurationValue accepts Go durations; bare numbers are milliseconds.
func parseDurationValue(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

type comparator struct {
	condition string
	raw       string
	num       float64
	isNum     bool
	re        *regexp.Regexp
}

func newComparator(condition, value string) (*comparator, error) {
	if condition == "" {
		condition = "eq"
	}

	c := &comparator{condition: condition, raw: value}
	if n, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		c.num, c.isNum = n, true
	}

	switch condition {
	case "eq", "ne", "contains", "exists":
	case "gt", "gte", "lt", "lte":
		if !c.isNum {
			return nil, fmt.Errorf("%w: condition %s needs a numeric value, got %q", config.ErrInvalidConfig, condition, value)
		}
	case "matches":
		re, err := regexp.Compile(value)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid pattern %q: %v", config.ErrInvalidConfig, value, err)
		}
		c.re = re
	default:
		return nil, fmt.Errorf("%w: unknown condition %q", config.ErrInvalidConfig, condition)
	}

	return c, nil
}

func (c *comparator) number(actual float64) bool {
	switch c.condition {
	case "exists":
		return true
	case "eq":
		return c.isNum && actual == c.num
	case "ne":
		return !c.isNum || actual != c.num
	case "gt":
		return actual > c.num
	case "gte":
		return actual >= c.num
	case "lt":
		return actual < c.num
	case "lte":
		return actual <= c.num
	}
	return c.text(strconv.FormatFloat(actual, 'f', -1, 64), true)
}

func (c *comparator) text(actual string, exists bool) bool {
	switch c.condition {
	case "exists":
		return exists
	case "eq":
		return exists && actual == c.raw
	case "ne":
		return actual != c.raw
	case "contains":
		return exists && strings.Contains(actual, c.raw)
	case "matches":
		return exists && c.re.MatchString(actual)
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	if !exists || err != nil {
		return false
	}
	return c.number(n)
}

var bracketIndex = regexp.MustCompile(`\[(\d+)\]`)
var bracketKey = regexp.MustCompile(`\[['"]([^'"]+)['"]\]`)

// GJSONPath converts a JSONPath expression ("$.users[0].name") into gjson
// syntax ("users.0.name"). Plain gjson paths pass through unchanged.
func GJSONPath(path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "$") {
		return path
	}

	path = strings.TrimPrefix(path, "$")
	path = bracketKey.ReplaceAllString(path, ".$1")
	path = bracketIndex.ReplaceAllString(path, ".$1")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}
	return path
}
