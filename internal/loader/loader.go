// Package loader reads job definition files, validates every document
// against the embedded CUE schema, and produces the immutable job models
// a session starts from.
package loader

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/certrig/certrig/internal/job"
)

//go:embed schema.cue
var schemaCUE string

// Error codes for load failures.
const (
	ErrCodeNotFound = "NOT_FOUND"
	ErrCodeNoFiles  = "NO_FILES"
	ErrCodeParse    = "PARSE_ERROR"
	ErrCodeSchema   = "SCHEMA_ERROR"
)

// LoadError describes a failure while loading job definitions.
type LoadError struct {
	Code    string
	File    string
	Message string
}

func (e *LoadError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Loader validates and converts job definition documents. It holds the
// compiled schema so repeated loads don't recompile it.
type Loader struct {
	schema cue.Value
	cuectx *cue.Context
}

// New compiles the embedded schema and returns a ready Loader.
func New() (*Loader, error) {
	cuectx := cuecontext.New()
	compiled := cuectx.CompileString(schemaCUE)
	if err := compiled.Err(); err != nil {
		return nil, fmt.Errorf("compile job schema: %w", err)
	}
	schema := compiled.LookupPath(cue.ParsePath("#Job"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("job schema missing #Job: %w", err)
	}
	return &Loader{schema: schema, cuectx: cuectx}, nil
}

// LoadDir reads every .yaml/.yml file under dir (sorted, recursive) and
// returns the jobs they define, in file-then-document order.
func (l *Loader) LoadDir(dir string) ([]*job.Job, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("job directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: err.Error()}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: err.Error()}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no job definition files in %s", dir)}
	}
	sort.Strings(files)

	var jobs []*job.Job
	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeNotFound, File: file, Message: err.Error()}
		}
		loaded, err := l.parse(f, file)
		f.Close()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, loaded...)
	}
	return jobs, nil
}

// Parse reads job definition documents from r. name labels errors.
// This is also the entry point for bootstrap output: a local job's
// captured stdout goes through the same schema validation as files on
// disk.
func (l *Loader) Parse(r io.Reader, name string) ([]*job.Job, error) {
	return l.parse(r, name)
}

func (l *Loader) parse(r io.Reader, name string) ([]*job.Job, error) {
	var jobs []*job.Job
	decoder := yaml.NewDecoder(r)
	for docIndex := 0; ; docIndex++ {
		var raw map[string]any
		err := decoder.Decode(&raw)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &LoadError{
				Code: ErrCodeParse, File: name,
				Message: fmt.Sprintf("document %d: %v", docIndex, err),
			}
		}
		if raw == nil {
			continue
		}
		loaded, err := l.loadDocument(raw, name, docIndex)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, loaded...)
	}
	return jobs, nil
}

// loadDocument accepts either a single job mapping or a document of the
// form {jobs: [...]}.
func (l *Loader) loadDocument(raw map[string]any, name string, docIndex int) ([]*job.Job, error) {
	if list, ok := raw["jobs"]; ok && len(raw) == 1 {
		entries, ok := list.([]any)
		if !ok {
			return nil, &LoadError{
				Code: ErrCodeParse, File: name,
				Message: fmt.Sprintf("document %d: jobs must be a list", docIndex),
			}
		}
		var jobs []*job.Job
		for i, entry := range entries {
			m, ok := entry.(map[string]any)
			if !ok {
				return nil, &LoadError{
					Code: ErrCodeParse, File: name,
					Message: fmt.Sprintf("document %d: jobs[%d] must be a mapping", docIndex, i),
				}
			}
			j, err := l.loadOne(m, name)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, j)
		}
		return jobs, nil
	}
	j, err := l.loadOne(raw, name)
	if err != nil {
		return nil, err
	}
	return []*job.Job{j}, nil
}

func (l *Loader) loadOne(raw map[string]any, name string) (*job.Job, error) {
	value := l.cuectx.Encode(raw)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeParse, File: name, Message: err.Error()}
	}
	unified := l.schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Code: ErrCodeSchema, File: name, Message: err.Error()}
	}

	var d job.Descriptor
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeParse, File: name, Message: err.Error()}
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, &LoadError{Code: ErrCodeParse, File: name, Message: err.Error()}
	}
	j, err := job.FromDescriptor(d)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeSchema, File: name, Message: err.Error()}
	}
	return j, nil
}
