// Package job defines the immutable job model consumed by the rest of the
// harness: a job's identity, its execution strategy (plugin kind), and the
// raw dependency and resource-requirement expressions authored alongside it.
package job

import (
	"fmt"
	"strings"
)

// PluginKind is the execution strategy tag on a job.
type PluginKind string

const (
	// PluginShell runs the job command and maps its return code to an outcome.
	PluginShell PluginKind = "shell"
	// PluginResource runs the command and parses its output as key/value facts.
	PluginResource PluginKind = "resource"
	// PluginLocal marks a category; its output may emit further jobs.
	PluginLocal PluginKind = "local"
	// PluginManual asks an operator for the final outcome.
	PluginManual PluginKind = "manual"
	// PluginUserInteract runs the command, then asks the operator.
	PluginUserInteract PluginKind = "user-interact"
	// PluginUserVerify asks the operator to verify the command's effect.
	PluginUserVerify PluginKind = "user-verify"
	// PluginUserInteractVerify combines interact and verify.
	PluginUserInteractVerify PluginKind = "user-interact-verify"
	// PluginQML is a graphical test; the harness cannot run it headless.
	PluginQML PluginKind = "qml"
)

// Interactive reports whether the kind needs an operator to decide the outcome.
func (k PluginKind) Interactive() bool {
	switch k {
	case PluginManual, PluginUserInteract, PluginUserVerify, PluginUserInteractVerify:
		return true
	}
	return false
}

// Namespace separates a job id's provider prefix from its partial id.
const NamespaceSeparator = "::"

// DefaultNamespace is applied to ids authored without a namespace prefix.
const DefaultNamespace = "com.certrig.default"

// DefaultCertificationStatus is used when a descriptor omits the field.
const DefaultCertificationStatus = "unspecified"

// UncategorisedCategoryID is the well-known sentinel for jobs whose
// descriptor names no category.
const UncategorisedCategoryID = DefaultNamespace + NamespaceSeparator + "uncategorised"

// Job is the immutable description of a single check. Fields are fixed once
// the descriptor is parsed; per-session state lives elsewhere.
type Job struct {
	// ID is the fully namespaced identifier, e.g. "com.acme.cert::cpu/freq".
	ID string
	// PartialID is the id without the namespace prefix.
	PartialID string
	Plugin    PluginKind
	// Command is the shell command to run, empty for purely manual jobs.
	Command string
	// DependsExpr is the raw dependency expression: job ids separated by
	// commas, spaces, tabs or newlines.
	DependsExpr string
	// RequiresExpr is the raw resource-requirement expression.
	RequiresExpr string
	Summary      string
	Description  string
	// CertificationStatus is "unspecified", "blocker" or "non-blocker".
	CertificationStatus string
	CategoryID          string
}

// Descriptor carries the raw fields supplied by external collaborators
// (providers, bootstrap output). Absent optional fields stay empty and are
// defaulted by FromDescriptor.
type Descriptor struct {
	ID                  string `yaml:"id" json:"id,omitempty"`
	FullID              string `yaml:"full_id" json:"full_id,omitempty"`
	Plugin              string `yaml:"plugin" json:"plugin"`
	Command             string `yaml:"command" json:"command,omitempty"`
	Depends             string `yaml:"depends" json:"depends,omitempty"`
	Requires            string `yaml:"requires" json:"requires,omitempty"`
	Summary             string `yaml:"summary" json:"summary,omitempty"`
	Description         string `yaml:"description" json:"description,omitempty"`
	CertificationStatus string `yaml:"certification_status" json:"certification_status,omitempty"`
	CategoryID          string `yaml:"category_id" json:"category_id,omitempty"`
}

// FromDescriptor builds a Job from a raw descriptor, applying the documented
// fallbacks: full_id falls back to id, summary to the job name,
// certification_status to "unspecified" and category_id to the
// uncategorised sentinel. Ids without a namespace separator get the default
// namespace prefix.
func FromDescriptor(d Descriptor) (*Job, error) {
	if d.ID == "" && d.FullID == "" {
		return nil, &ConfigurationError{What: "job descriptor", Reason: "missing id"}
	}
	if d.Plugin == "" {
		return nil, &ConfigurationError{What: "job descriptor", Reason: fmt.Sprintf("job %q has no plugin", d.ID)}
	}
	id := d.FullID
	if id == "" {
		id = d.ID
	}
	if !strings.Contains(id, NamespaceSeparator) {
		id = DefaultNamespace + NamespaceSeparator + id
	}
	partial := id[strings.Index(id, NamespaceSeparator)+len(NamespaceSeparator):]
	summary := d.Summary
	if summary == "" {
		summary = partial
	}
	status := d.CertificationStatus
	if status == "" {
		status = DefaultCertificationStatus
	}
	category := d.CategoryID
	if category == "" {
		category = UncategorisedCategoryID
	}
	return &Job{
		ID:                  id,
		PartialID:           partial,
		Plugin:              PluginKind(d.Plugin),
		Command:             d.Command,
		DependsExpr:         d.Depends,
		RequiresExpr:        d.Requires,
		Summary:             summary,
		Description:         d.Description,
		CertificationStatus: status,
		CategoryID:          category,
	}, nil
}

// ToDescriptor converts the job back to its descriptor form. Used when a
// session snapshot needs to round-trip job definitions losslessly.
func (j *Job) ToDescriptor() Descriptor {
	return Descriptor{
		ID:                  j.PartialID,
		FullID:              j.ID,
		Plugin:              string(j.Plugin),
		Command:             j.Command,
		Depends:             j.DependsExpr,
		Requires:            j.RequiresExpr,
		Summary:             j.Summary,
		Description:         j.Description,
		CertificationStatus: j.CertificationStatus,
		CategoryID:          j.CategoryID,
	}
}

// DirectDependencies splits the raw depends expression into job ids.
// Separators are commas and any whitespace; empty tokens are dropped.
func (j *Job) DirectDependencies() []string {
	return splitList(j.DependsExpr)
}

func splitList(expr string) []string {
	fields := strings.FieldsFunc(expr, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (j *Job) String() string {
	return j.ID
}
