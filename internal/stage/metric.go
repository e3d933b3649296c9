package stage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/utils"
)

// MetricExtractor reads the figure-of-merit from a completed artifact
type MetricExtractor interface {
	Extract(fsys FileSystem, path string) (float64, error)
}

// Format is an artifact encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// FileExtractor looks up Key in a JSON, YAML or text artifact. For JSON and
// YAML the key is a dotted path; numeric segments index arrays. Text
// artifacts hold lines of "name value", "name: value" or "name = value"; the
// last matching line wins.
type FileExtractor struct {
	Format Format
	Key    string
}

// Extract implements MetricExtractor
func (e FileExtractor) Extract(fsys FileSystem, path string) (float64, error) {
	notFound := func(reason string) error {
		return &MetricNotFoundError{Path: path, Metric: e.Key, Reason: reason}
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, notFound("artifact does not exist")
		}
		return 0, notFound(fmt.Sprintf("read artifact: %v", err))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return 0, notFound("artifact is empty")
	}

	var value float64
	switch e.Format {
	case FormatYAML:
		value, err = extractYAML(data, e.Key)
	case FormatText:
		value, err = extractText(data, e.Key)
	default:
		value, err = extractJSON(data, e.Key)
	}
	if err != nil {
		return 0, notFound(err.Error())
	}
	if !utils.IsFinite(value) {
		return 0, notFound(fmt.Sprintf("value is not finite (%v)", value))
	}
	return value, nil
}

func pathSegments(key string) []string {
	return strings.Split(key, ".")
}

func extractJSON(data []byte, key string) (float64, error) {
	if !jsoniter.Valid(data) {
		return 0, fmt.Errorf("incomplete or invalid json")
	}
	var path []interface{}
	for _, seg := range pathSegments(key) {
		if i, err := strconv.Atoi(seg); err == nil {
			path = append(path, i)
		} else {
			path = append(path, seg)
		}
	}
	node := jsoniter.Get(data, path...)
	if node.LastError() != nil {
		return 0, fmt.Errorf("key not present")
	}
	switch node.ValueType() {
	case jsoniter.NumberValue:
		return node.ToFloat64(), nil
	case jsoniter.StringValue:
		// some writers quote NaN and Infinity
		v, err := strconv.ParseFloat(node.ToString(), 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", node.ToString())
		}
		return v, nil
	case jsoniter.NilValue:
		return 0, fmt.Errorf("value is null")
	default:
		return 0, fmt.Errorf("value is not numeric")
	}
}

func extractYAML(data []byte, key string) (float64, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("invalid yaml: %w", err)
	}

	node := doc
	for _, seg := range pathSegments(key) {
		switch typed := node.(type) {
		case map[string]interface{}:
			next, ok := typed[seg]
			if !ok {
				return 0, fmt.Errorf("key not present")
			}
			node = next
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(typed) {
				return 0, fmt.Errorf("key not present")
			}
			node = typed[i]
		default:
			return 0, fmt.Errorf("key not present")
		}
	}

	switch v := node.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case nil:
		return 0, fmt.Errorf("value is null")
	default:
		return 0, fmt.Errorf("value is not numeric")
	}
}

func extractText(data []byte, key string) (float64, error) {
	found := false
	var value float64
	var parseErr error

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		rest, ok := strings.CutPrefix(line, key)
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		switch {
		case strings.HasPrefix(rest, ":"), strings.HasPrefix(rest, "="):
			rest = strings.TrimSpace(rest[1:])
		case rest == "" || line[len(key)] != ' ' && line[len(key)] != '\t':
			// a longer name sharing the prefix
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			parseErr = fmt.Errorf("value %q is not numeric", fields[0])
			found = false
			continue
		}
		value, found, parseErr = v, true, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if !found {
		if parseErr != nil {
			return 0, parseErr
		}
		return 0, fmt.Errorf("key not present")
	}
	return value, nil
}
