// Package resource turns resource-job output into key/value facts and
// evaluates the requirement expressions that gate other jobs on them.
package resource

import (
	"bufio"
	"io"
	"strings"
)

// Fact is a single record produced by a resource job: one set of key/value
// pairs describing a device, a kernel module, a network interface and so on.
type Fact map[string]string

// ParseFacts reads resource-job output as a sequence of records. Records are
// separated by blank lines; each line inside a record is "key: value".
// Lines without a colon are ignored, matching how probe scripts mix
// diagnostics with their structured output.
func ParseFacts(r io.Reader) ([]Fact, error) {
	var (
		facts   []Fact
		current Fact
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				facts = append(facts, current)
				current = nil
			}
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if current == nil {
			current = Fact{}
		}
		current[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(current) > 0 {
		facts = append(facts, current)
	}
	return facts, nil
}
