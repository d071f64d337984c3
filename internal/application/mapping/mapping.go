// Package mapping turns stored form submissions into CRM records using
// expressions declared in a YAML mapping file.
package mapping

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"github.com/ideinstein/leadbridge/internal/domain"
	"github.com/ideinstein/leadbridge/internal/infrastructure/crm"
	appErrors "github.com/ideinstein/leadbridge/pkg/errors"
)

//go:embed default_mapping.yaml
var defaultMapping []byte

const defaultNoteTitle = "Website submission"

// File is the on-disk mapping layout
type File struct {
	Forms map[string]FormRule `yaml:"forms"`
}

// FormRule describes how one form becomes a CRM record
type FormRule struct {
	Module               string            `yaml:"module"`
	DuplicateCheckFields []string          `yaml:"duplicate_check_fields"`
	Fields               map[string]string `yaml:"fields"`
	NoteTitle            string            `yaml:"note_title"`
	Note                 string            `yaml:"note"`
}

// Result is a mapped submission ready to be sent
type Result struct {
	Module               string
	DuplicateCheckFields []string
	Record               crm.Record
	NoteTitle            string
	Note                 string
}

type compiledField struct {
	name    string
	program *vm.Program
}

type compiledForm struct {
	module    string
	dupFields []string
	fields    []compiledField
	noteTitle string
	note      *vm.Program
}

// Mapper holds the compiled mapping for every form type
type Mapper struct {
	forms map[domain.FormType]*compiledForm
}

// Load reads the mapping at path, or the built-in mapping when path is empty
func Load(path string) (*Mapper, error) {
	if path == "" {
		return Parse(defaultMapping)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and compiles a mapping document. Every form type must be
// mapped and every expression must compile.
func Parse(data []byte) (*Mapper, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}

	m := &Mapper{forms: make(map[domain.FormType]*compiledForm, len(file.Forms))}
	for name, rule := range file.Forms {
		ft := domain.FormType(name)
		if !ft.Valid() {
			return nil, fmt.Errorf("mapping for unknown form %q", name)
		}
		compiled, err := compileRule(rule)
		if err != nil {
			return nil, fmt.Errorf("form %s: %w", name, err)
		}
		m.forms[ft] = compiled
	}
	for _, ft := range domain.FormTypes {
		if _, ok := m.forms[ft]; !ok {
			return nil, fmt.Errorf("no mapping for form %q", ft)
		}
	}
	return m, nil
}

func compileRule(rule FormRule) (*compiledForm, error) {
	if strings.TrimSpace(rule.Module) == "" {
		return nil, fmt.Errorf("module is required")
	}
	if len(rule.Fields) == 0 {
		return nil, fmt.Errorf("at least one field is required")
	}

	cf := &compiledForm{
		module:    rule.Module,
		dupFields: rule.DuplicateCheckFields,
		noteTitle: rule.NoteTitle,
	}
	for _, name := range rule.DuplicateCheckFields {
		if _, ok := rule.Fields[name]; !ok {
			return nil, fmt.Errorf("duplicate check field %s is not mapped", name)
		}
	}

	names := make([]string, 0, len(rule.Fields))
	for name := range rule.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		program, err := compile(rule.Fields[name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		cf.fields = append(cf.fields, compiledField{name: name, program: program})
	}

	if strings.TrimSpace(rule.Note) != "" {
		program, err := compile(rule.Note)
		if err != nil {
			return nil, fmt.Errorf("note: %w", err)
		}
		cf.note = program
	}
	return cf, nil
}

func compile(expression string) (*vm.Program, error) {
	options := []expr.Option{
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	}
	options = append(options, functions()...)
	return expr.Compile(strings.TrimSpace(expression), options...)
}

// Map evaluates the form's mapping against a stored submission.
// Evaluation failures are validation errors: retrying cannot fix them.
func (m *Mapper) Map(sub *domain.Submission) (*Result, error) {
	cf, ok := m.forms[sub.FormType]
	if !ok {
		return nil, appErrors.NewValidationError("form_type", "no mapping for form "+string(sub.FormType))
	}

	env := environment(sub)
	record := crm.Record{}
	for _, f := range cf.fields {
		out, err := expr.Run(f.program, env)
		if err != nil {
			return nil, appErrors.NewValidationError(f.name, err.Error())
		}
		if isEmpty(out) {
			continue
		}
		record[f.name] = out
	}

	result := &Result{
		Module:               cf.module,
		DuplicateCheckFields: cf.dupFields,
		Record:               record,
		NoteTitle:            cf.noteTitle,
	}
	if result.NoteTitle == "" {
		result.NoteTitle = defaultNoteTitle
	}
	if cf.note != nil {
		out, err := expr.Run(cf.note, env)
		if err != nil {
			return nil, appErrors.NewValidationError("note", err.Error())
		}
		if !isEmpty(out) {
			result.Note = toString(out)
		}
	}
	return result, nil
}

// Module returns the CRM module a form is delivered to
func (m *Mapper) Module(ft domain.FormType) string {
	if cf, ok := m.forms[ft]; ok {
		return cf.module
	}
	return ""
}

func environment(sub *domain.Submission) map[string]any {
	env := make(map[string]any, len(sub.Payload)+4)
	for k, v := range sub.Payload {
		env[k] = v
	}

	attachments := make([]any, 0, len(sub.Attachments))
	for _, a := range sub.Attachments {
		attachments = append(attachments, map[string]any{
			"name": a.Name,
			"url":  a.URL,
			"size": a.Size,
		})
	}
	env["attachments"] = attachments
	env["form_type"] = string(sub.FormType)
	env["submission_id"] = sub.ID
	env["submitted_at"] = sub.CreatedDate.UTC().Format(time.RFC3339)
	return env
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	}
	return false
}
