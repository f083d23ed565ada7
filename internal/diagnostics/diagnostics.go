// Package diagnostics turns compiler stderr captured in build results into
// structured, editor-friendly diagnostics.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/aristath/pkgbuild/internal/cache"
)

// Scope says whether a diagnostic points at a file or at the project as a whole.
type Scope string

const (
	ScopeFile    Scope = "file"
	ScopeProject Scope = "project"
)

// Diagnostic kinds.
const (
	KindUnboundRecordField      = "TypeErrors.UnboundRecordField"
	KindRecordFieldError        = "TypeErrors.RecordFieldError"
	KindInconsistentAssumptions = "BuildErrors.InconsistentAssumptions"
	KindIncompatibleType        = "TypeErrors.IncompatibleType"
	KindCatchAll                = "General.CatchAll"
	KindFileUnknown             = "File.Unknown"
	KindProjectUnknown          = "Project.Unknown"
)

// Range is a line with a character span. Characters are zero when the
// compiler reported only a line.
type Range struct {
	Line      int `json:"line"`
	StartChar int `json:"startChar"`
	EndChar   int `json:"endChar"`
}

// Conflict is one inferred/expected pair from a type error elaboration.
type Conflict struct {
	Inferred string `json:"inferred"`
	Expected string `json:"expected"`
}

// Diagnostic is a single error extracted from a failed step.
type Diagnostic struct {
	Scope     Scope             `json:"scope"`
	Kind      string            `json:"kind"`
	Package   string            `json:"package,omitempty"`
	Step      cache.Step        `json:"step,omitempty"`
	FilePath  string            `json:"filePath,omitempty"`
	Range     *Range            `json:"range,omitempty"`
	Text      string            `json:"text"`
	FileText  string            `json:"fileText,omitempty"`
	Commands  []string          `json:"commands,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Conflicts []Conflict        `json:"conflicts,omitempty"`
}

var fileRe = regexp.MustCompile(`(/\S*\.(\w*))",\s*line\s*(\d*)(?:,\s*characters?\s*(\d*)-(\d*))?`)

type matcher struct {
	kind    string
	extract func(stderr string) (map[string]string, []Conflict, bool)
}

var (
	unboundFieldRe  = regexp.MustCompile(`Error: Unbound record field (\w*)`)
	recordFieldRe   = regexp.MustCompile(`(?s)This record expression is expected to have type(.*)The field\s*(\w*).*does not belong to type\s*(.*)(Hint:.*)`)
	inconsistentRe  = regexp.MustCompile(`Error: The files\s*(\S*)\s*and\s*(\S*)\s*make inconsistent assumptions over interface\s*(\S*)`)
	elaboratedRe    = regexp.MustCompile(`Error: This expression has type((?s:.*))but an expression was expected of type((?s:.*?))\n\s*Type\b([^\n]*(?:\n\s\s\s[^\n]*)*)`)
	incompatibleRe  = regexp.MustCompile(`Error: This expression has type((?s:.*))but an expression was expected of type((?s:.*))`)
	notCompatibleRe = regexp.MustCompile(`is not compatible with type`)
	typeWordRe      = regexp.MustCompile(`\bType\s`)
	catchAllRe      = regexp.MustCompile(`(?s)Error: (.*)`)
)

// matchers are tried in order; the catch-all must stay last.
var matchers = []matcher{
	{KindUnboundRecordField, func(s string) (map[string]string, []Conflict, bool) {
		m := unboundFieldRe.FindStringSubmatch(s)
		if m == nil {
			return nil, nil, false
		}
		return map[string]string{"fieldName": m[1]}, nil, true
	}},
	{KindRecordFieldError, func(s string) (map[string]string, []Conflict, bool) {
		m := recordFieldRe.FindStringSubmatch(s)
		if m == nil {
			return nil, nil, false
		}
		return map[string]string{
			"recordType":   strings.TrimSpace(m[1]),
			"fieldName":    m[2],
			"belongToType": strings.TrimSpace(m[3]),
			"hint":         strings.TrimSpace(m[4]),
		}, nil, true
	}},
	{KindInconsistentAssumptions, func(s string) (map[string]string, []Conflict, bool) {
		m := inconsistentRe.FindStringSubmatch(s)
		if m == nil {
			return nil, nil, false
		}
		return map[string]string{
			"conflictOne": m[1],
			"conflictTwo": m[2],
			"moduleName":  m[3],
		}, nil, true
	}},
	{KindIncompatibleType, func(s string) (map[string]string, []Conflict, bool) {
		if m := elaboratedRe.FindStringSubmatch(s); m != nil {
			details := map[string]string{
				"inferred": strings.TrimSpace(m[1]),
				"expected": strings.TrimSpace(m[2]),
			}
			return details, conflicts(m[3]), true
		}
		if m := incompatibleRe.FindStringSubmatch(s); m != nil {
			return map[string]string{
				"inferred": strings.TrimSpace(m[1]),
				"expected": strings.TrimSpace(m[2]),
			}, nil, true
		}
		return nil, nil, false
	}},
	{KindCatchAll, func(s string) (map[string]string, []Conflict, bool) {
		m := catchAllRe.FindStringSubmatch(s)
		if m == nil {
			return nil, nil, false
		}
		return map[string]string{"msg": strings.TrimSpace(m[1])}, nil, true
	}},
}

// conflicts pairs up the types named in an elaboration such as
// "Type a is not compatible with type b". Unpaired text yields nothing.
func conflicts(text string) []Conflict {
	if !notCompatibleRe.MatchString(text) {
		return nil
	}
	var types []string
	for _, part := range notCompatibleRe.Split(text, -1) {
		for _, t := range typeWordRe.Split(part, -1) {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}
	if len(types)%2 != 0 {
		return nil
	}
	out := make([]Conflict, 0, len(types)/2)
	for i := 0; i < len(types); i += 2 {
		out = append(out, Conflict{Inferred: types[i], Expected: types[i+1]})
	}
	return out
}

// Extract classifies the stderr of a failed step. Output naming a source
// location yields one file-scoped diagnostic; anything else is reported
// against the project.
func Extract(commands []string, stderr string) []Diagnostic {
	loc := fileRe.FindStringSubmatch(stderr)
	if loc == nil {
		return []Diagnostic{{
			Scope:    ScopeProject,
			Kind:     KindProjectUnknown,
			Text:     stderr,
			Commands: commands,
		}}
	}

	d := Diagnostic{
		Scope:    ScopeFile,
		Kind:     KindFileUnknown,
		FilePath: loc[1],
		Range: &Range{
			Line:      atoi(loc[3]),
			StartChar: atoi(loc[4]),
			EndChar:   atoi(loc[5]),
		},
		Text:     stderr,
		Commands: commands,
	}
	if data, err := os.ReadFile(d.FilePath); err == nil {
		d.FileText = string(data)
	}
	for _, m := range matchers {
		if details, cs, ok := m.extract(stderr); ok {
			d.Kind = m.kind
			d.Details = details
			d.Conflicts = cs
			break
		}
	}
	return []Diagnostic{d}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// FromCache extracts diagnostics from every step that failed in this run.
func FromCache(c *cache.ResultsCache) []Diagnostic {
	var out []Diagnostic
	for _, se := range c.StepErrors() {
		for _, d := range Extract(se.Commands, se.Err.Error()) {
			d.Package = se.Package
			d.Step = se.Step
			out = append(out, d)
		}
	}
	return out
}

// Write stores diags as indented JSON at path. An empty list is written as [].
func Write(path string, diags []Diagnostic) error {
	if diags == nil {
		diags = []Diagnostic{}
	}
	data, err := json.MarshalIndent(diags, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding diagnostics: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating diagnostics dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing diagnostics: %w", err)
	}
	return nil
}
