package workflow

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mor/automatr/rules"
)

//go:embed definitions/*.yaml
var builtin embed.FS

// Parse decodes and validates one YAML workflow definition. Unknown fields
// are rejected.
func Parse(data []byte) (*rules.Workflow, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var wf rules.Workflow
	if err := dec.Decode(&wf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty workflow definition")
		}
		return nil, fmt.Errorf("decode workflow: %w", err)
	}

	applyDefaults(&wf)
	if err := Validate(&wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// LoadBuiltin returns the workflows compiled into the binary
func LoadBuiltin() ([]*rules.Workflow, error) {
	sub, err := fs.Sub(builtin, "definitions")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub)
}

// LoadDir reads every *.yaml and *.yml file in dir
func LoadDir(dir string) ([]*rules.Workflow, error) {
	return LoadFS(os.DirFS(dir))
}

// LoadFS reads every *.yaml and *.yml file at the root of fsys, ordered by
// file name. Two workflows with the same name are an error.
func LoadFS(fsys fs.FS) ([]*rules.Workflow, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := fs.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, errors.New("no workflow definitions found")
	}

	names := make(map[string]string, len(files))
	workflows := make([]*rules.Workflow, 0, len(files))
	for _, file := range files {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		wf, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(file), err)
		}
		if other, ok := names[wf.Name]; ok {
			return nil, fmt.Errorf("workflow %q defined in both %s and %s", wf.Name, other, file)
		}
		names[wf.Name] = file
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

func applyDefaults(wf *rules.Workflow) {
	if wf.Title == "" {
		wf.Title = wf.Name
	}
	if wf.Policy == "" {
		wf.Policy = rules.PolicyFirstMatch
	}
	if wf.RequiredField == "" {
		switch wf.Action {
		case rules.ActionResolve:
			wf.RequiredField = rules.FieldExternalNote
		case rules.ActionCreateSubtask:
			wf.RequiredField = rules.FieldTaskType
		}
	}
}
