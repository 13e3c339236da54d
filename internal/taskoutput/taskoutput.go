// Package taskoutput turns what a task printed into structured data with a
// chain of line processors.
package taskoutput

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type Shape string

const (
	ShapeObject Shape = "object"
	ShapeString Shape = "string"
	ShapeArray  Shape = "array"
)

const (
	ProcessorTrim         = "trim"
	ProcessorKeyValue     = "key_value"
	ProcessorKeyValueJSON = "key_value_json"
	ProcessorSplitLines   = "split_lines"
	ProcessorDropEmpty    = "drop_empty"
)

// Processor transforms a slice of lines.
type Processor interface {
	Process([]string, Shape) ([]string, error)
	Name() string
}

// Chain applies registered processors by name in the order requested.
type Chain struct {
	processors        map[string]Processor
	allowEmptyResults bool
}

func NewChain() *Chain {
	c := &Chain{
		processors:        make(map[string]Processor),
		allowEmptyResults: true,
	}
	c.Register(&TrimProcessor{})
	c.Register(&DropEmptyProcessor{})
	c.Register(&SplitLinesProcessor{})
	c.Register(&KeyValueProcessor{})
	c.Register(&KeyValueJSONProcessor{})
	return c
}

func (c *Chain) Register(p Processor) {
	c.processors[p.Name()] = p
}

func validShape(s Shape) bool {
	return s == ShapeObject || s == ShapeString || s == ShapeArray
}

func (c *Chain) Process(lines []string, shape Shape, names ...string) ([]string, error) {
	if !validShape(shape) {
		return nil, fmt.Errorf("invalid shape: %v", shape)
	}
	for _, name := range names {
		if _, ok := c.processors[name]; !ok {
			return nil, fmt.Errorf("processor %q not registered", name)
		}
	}
	if len(lines) == 0 {
		return lines, nil
	}
	result := lines
	for _, name := range names {
		var err error
		result, err = c.processors[name].Process(result, shape)
		if err != nil {
			return nil, fmt.Errorf("%s processor failed: %w", name, err)
		}
		if len(result) == 0 && !c.allowEmptyResults {
			break
		}
	}
	return result, nil
}

// Lines splits captured console text, tolerating CRLF from Windows nodes.
func Lines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// Summary extracts the "key: value" lines a worker prints on stdout. Lines
// without a colon are ignored; a later key wins.
func Summary(stdout string) (map[string]string, error) {
	lines, err := NewChain().Process(Lines(stdout), ShapeString, ProcessorTrim, ProcessorDropEmpty)
	if err != nil {
		return nil, err
	}
	return parseKeyValueLines(lines)
}

type TrimProcessor struct{}

func (p *TrimProcessor) Name() string { return ProcessorTrim }

func (p *TrimProcessor) Process(lines []string, _ Shape) ([]string, error) {
	trimmed := make([]string, len(lines))
	for i, line := range lines {
		trimmed[i] = strings.TrimSpace(line)
	}
	return trimmed, nil
}

type DropEmptyProcessor struct{}

func (p *DropEmptyProcessor) Name() string { return ProcessorDropEmpty }

func (p *DropEmptyProcessor) Process(lines []string, _ Shape) ([]string, error) {
	kept := lines[:0:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return kept, nil
}

func parseKeyValueLines(lines []string) (map[string]string, error) {
	kv := make(map[string]string)
	if len(lines) == 1 {
		if split := strings.Split(strings.TrimSpace(lines[0]), "\n"); len(split) > 1 {
			lines = split
		}
	}
	for _, line := range lines {
		parts := strings.SplitN(strings.TrimSpace(line), ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			return nil, fmt.Errorf("empty key in line: %q", line)
		}
		kv[key] = strings.TrimSpace(parts[1])
	}
	return kv, nil
}

// KeyValueProcessor normalizes "key:value" lines to "key: value", sorted by key.
type KeyValueProcessor struct{}

func (p *KeyValueProcessor) Name() string { return ProcessorKeyValue }

func (p *KeyValueProcessor) Process(lines []string, shape Shape) ([]string, error) {
	if shape != ShapeString || len(lines) == 0 {
		return lines, nil
	}
	kv, err := parseKeyValueLines(lines)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]string, 0, len(kv))
	for _, k := range keys {
		result = append(result, fmt.Sprintf("%s: %s", k, kv[k]))
	}
	return result, nil
}

// KeyValueJSONProcessor folds "key:value" lines into a single JSON object.
type KeyValueJSONProcessor struct{}

func (p *KeyValueJSONProcessor) Name() string { return ProcessorKeyValueJSON }

func (p *KeyValueJSONProcessor) Process(lines []string, shape Shape) ([]string, error) {
	if shape != ShapeString || len(lines) == 0 {
		return lines, nil
	}
	kv, err := parseKeyValueLines(lines)
	if err != nil {
		return nil, err
	}
	result, err := json.Marshal(kv)
	if err != nil {
		return nil, fmt.Errorf("key_value marshal error: %w", err)
	}
	return []string{string(result)}, nil
}

// SplitLinesProcessor splits each line into fields for array shapes.
type SplitLinesProcessor struct{}

func (p *SplitLinesProcessor) Name() string { return ProcessorSplitLines }

func (p *SplitLinesProcessor) Process(lines []string, shape Shape) ([]string, error) {
	if shape != ShapeArray {
		return lines, nil
	}
	result := make([]string, 0, len(lines)*3)
	for _, line := range lines {
		result = append(result, strings.Fields(line)...)
	}
	return result, nil
}
