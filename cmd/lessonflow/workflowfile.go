package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/lessonflow/internal/validation"
	"github.com/rendis/lessonflow/pkg/schema"
)

// readWorkflowDocument returns the workflow at path as a JSON document. ".json"
// files are read as is; anything else, including "-" for stdin, is parsed as
// YAML, which also accepts JSON.
func readWorkflowDocument(path string, stdin io.Reader) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", path, err)
	}
	return out, nil
}

// loadWorkflow reads, decodes and validates the workflow at path. The result
// carries every issue found; wf is nil when the document was rejected.
func loadWorkflow(v *validation.WorkflowValidator, path string, stdin io.Reader) (*schema.Workflow, *schema.ValidationResult, error) {
	data, err := readWorkflowDocument(path, stdin)
	if err != nil {
		return nil, nil, err
	}
	wf, res := v.Decode(data)
	if res != nil {
		return nil, res, nil
	}
	if wf.ID == "" && path != "-" {
		wf.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return wf, v.Validate(wf), nil
}

// printIssues writes one line per validation issue.
func printIssues(w io.Writer, res *schema.ValidationResult) {
	for _, is := range res.Issues() {
		fmt.Fprintln(w, is)
	}
}
