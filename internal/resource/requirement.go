package resource

import (
	"fmt"
	"strings"

	"github.com/certrig/certrig/internal/job"
)

// Requirement is one parsed comparison from a job's requires expression,
// e.g. `cpuinfo.platform == "x86_64"`. Resource names that carry a
// namespace keep it; lookups match on the name as written.
type Requirement struct {
	Resource string
	Key      string
	Op       string
	Value    string
}

// comparison operators accepted in requirement expressions.
const (
	OpEq  = "=="
	OpNeq = "!="
	OpIn  = "in"
)

// ParseRequirements parses a raw requires expression into individual
// comparisons. Comparisons may span several lines; each non-empty line is
// one comparison, optionally suffixed with "and" / "or" connectives which
// are accepted and discarded (every comparison must hold — the harness
// evaluates requirements conjunctively, the way certification plans author
// them). A malformed comparison is a ConfigurationError.
func ParseRequirements(expr string) ([]Requirement, error) {
	var reqs []Requirement
	for _, line := range strings.Split(expr, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), " and"))
		line = strings.TrimSpace(strings.TrimSuffix(line, " or"))
		if line == "" {
			continue
		}
		req, err := parseComparison(line)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func parseComparison(line string) (Requirement, error) {
	malformed := func(reason string) (Requirement, error) {
		return Requirement{}, &job.ConfigurationError{
			What:   "requirement expression",
			Reason: fmt.Sprintf("%s: %q", reason, line),
		}
	}

	var (
		op    string
		idx   = -1
		opLen int
	)
	for _, candidate := range []string{OpEq, OpNeq, " in "} {
		if i := strings.Index(line, candidate); i >= 0 {
			op = strings.TrimSpace(candidate)
			idx = i
			opLen = len(candidate)
			break
		}
	}
	if idx < 0 {
		return malformed("no comparison operator")
	}

	lhs := strings.TrimSpace(line[:idx])
	rhs := strings.TrimSpace(line[idx+opLen:])

	dot := strings.LastIndex(lhs, ".")
	if dot <= 0 || dot == len(lhs)-1 {
		return malformed("left side must be resource.key")
	}
	resourceName, key := lhs[:dot], lhs[dot+1:]

	value, err := unquote(rhs, op)
	if err != nil {
		return malformed(err.Error())
	}
	return Requirement{Resource: resourceName, Key: key, Op: op, Value: value}, nil
}

func unquote(rhs, op string) (string, error) {
	if op == OpIn {
		if !strings.HasPrefix(rhs, "[") || !strings.HasSuffix(rhs, "]") {
			return "", fmt.Errorf("'in' needs a bracketed list")
		}
		return rhs, nil
	}
	if len(rhs) < 2 || (rhs[0] != '"' && rhs[0] != '\'') || rhs[len(rhs)-1] != rhs[0] {
		return "", fmt.Errorf("value must be quoted")
	}
	return rhs[1 : len(rhs)-1], nil
}

// Satisfied reports whether the requirement holds against the gathered
// facts. A resource with no facts at all fails every comparison on it.
func (r Requirement) Satisfied(facts map[string][]Fact) bool {
	records := facts[r.Resource]
	for _, record := range records {
		got, ok := record[r.Key]
		if !ok {
			continue
		}
		switch r.Op {
		case OpEq:
			if got == r.Value {
				return true
			}
		case OpNeq:
			if got != r.Value {
				return true
			}
		case OpIn:
			for _, member := range splitInList(r.Value) {
				if got == member {
					return true
				}
			}
		}
	}
	return false
}

func splitInList(bracketed string) []string {
	inner := strings.TrimSuffix(strings.TrimPrefix(bracketed, "["), "]")
	parts := strings.Split(inner, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"'`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s.%s %s %q", r.Resource, r.Key, r.Op, r.Value)
}
