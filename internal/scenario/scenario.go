// Package scenario implements C8, a TOML-driven harness for the literal
// scenarios spec.md §8 enumerates (hello-success, CPU limit, memory
// limit, signal, missing output, event ordering) plus any additional
// fixtures written in the same shape.
//
// Grounded directly on internal/behave/behave.go's Parse, generalized
// from api.ExecReq's single-language, Content-only test shape to
// model.ExecutionRequest's Tests/Subtasks/CheckerSource fields and an
// Expect block that can assert on model.Response.Status and each test's
// model.Verdict.
package scenario

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/lvgrader/grader/internal/model"
)

// SpecTest is one [[scenarios.request.tests]] entry.
type SpecTest struct {
	In  string `toml:"in"`
	Ans string `toml:"ans"`
}

// SpecLanguage names a language either by reference (LangID, resolved
// against the [[languages]] registry) or inline.
type SpecLanguage struct {
	LangID        string `toml:"lang_id"`
	LangName      string `toml:"lang_name"`
	CodeFname     string `toml:"code_fname"`
	CompileCmd    string `toml:"compile_cmd"`
	CompiledFname string `toml:"compiled_fname"`
	ExecCmd       string `toml:"exec_cmd"`
}

// SpecLimits is one [scenarios.request.limits] block.
type SpecLimits struct {
	CPUMs  int64 `toml:"cpu_ms"`
	WallMs int64 `toml:"wall_ms"`
	RAMKiB int64 `toml:"ram_kib"`
}

// SpecRequest is one [[scenarios.request]] block.
type SpecRequest struct {
	Code     string       `toml:"code"`
	Checker  string        `toml:"checker"`
	Tests    []SpecTest   `toml:"tests"`
	Language SpecLanguage `toml:"language"`
	Limits   SpecLimits   `toml:"limits"`
}

// SpecTestVerdict is one expected per-test outcome, matched positionally
// against Tests.
type SpecTestVerdict struct {
	Verdict string `toml:"verdict"`
}

// SpecExpect is the [scenarios.expect] block.
type SpecExpect struct {
	Status      string            `toml:"status"`
	TestResults []SpecTestVerdict `toml:"test_results"`
}

type specSuite struct {
	Description string        `toml:"description"`
	RequestAOT  []SpecRequest `toml:"request"`
	Expect      SpecExpect    `toml:"expect"`
}

type specRoot struct {
	Suites    []specSuite `toml:"scenarios"`
	Languages []struct {
		ID            string `toml:"id"`
		LangName      string `toml:"lang_name"`
		CodeFname     string `toml:"code_fname"`
		CompileCmd    string `toml:"compile_cmd"`
		CompiledFname string `toml:"compiled_fname"`
		ExecCmd       string `toml:"exec_cmd"`
	} `toml:"languages"`
}

// Case is one runnable scenario converted from TOML into the grader's own
// request/expectation types.
type Case struct {
	Name    string
	Request model.ExecutionRequest
	Expect  SpecExpect
}

// ParseFile reads a scenario TOML file from disk and converts it.
func ParseFile(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse converts scenario TOML bytes into runnable Cases.
func Parse(data []byte) ([]Case, error) {
	var root specRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse scenario TOML: %w", err)
	}

	langByID := make(map[string]SpecLanguage)
	for _, l := range root.Languages {
		if l.ID == "" {
			continue
		}
		langByID[l.ID] = SpecLanguage{
			LangName:      l.LangName,
			CodeFname:     l.CodeFname,
			CompileCmd:    l.CompileCmd,
			CompiledFname: l.CompiledFname,
			ExecCmd:       l.ExecCmd,
		}
	}

	cases := make([]Case, 0, len(root.Suites))
	for _, suite := range root.Suites {
		if len(suite.RequestAOT) == 0 {
			return nil, fmt.Errorf("scenario %q is missing a request block", suite.Description)
		}
		reqSpec := suite.RequestAOT[0]

		eff, err := resolveLanguage(reqSpec.Language, langByID)
		if err != nil {
			return nil, err
		}

		lang := model.ProgrammingLanguage{
			Name:          eff.LangName,
			SourceFname:   eff.CodeFname,
			CompileCmd:    eff.CompileCmd,
			CompiledFname: eff.CompiledFname,
			ExecCmd:       eff.ExecCmd,
		}

		tests := make([]model.TestCase, 0, len(reqSpec.Tests))
		for i, t := range reqSpec.Tests {
			tests = append(tests, model.TestCase{
				ID:            i + 1,
				InputContent:  []byte(t.In),
				AnswerContent: []byte(t.Ans),
			})
		}

		cpuMs := reqSpec.Limits.CPUMs
		if cpuMs == 0 {
			cpuMs = 2000
		}
		ramKiB := reqSpec.Limits.RAMKiB
		if ramKiB == 0 {
			ramKiB = 256 * 1024
		}
		wallMs := reqSpec.Limits.WallMs
		if wallMs == 0 {
			wallMs = cpuMs * 2
		}

		cases = append(cases, Case{
			Name: suite.Description,
			Request: model.ExecutionRequest{
				SessionID:     uuid.NewString(),
				SourceCode:    reqSpec.Code,
				Language:      lang,
				Tests:         tests,
				CheckerSource: reqSpec.Checker,
				Limits: model.ResourceLimits{
					CPUTimeMillis:  cpuMs,
					WallTimeMillis: wallMs,
					MemoryKiBytes:  ramKiB,
				},
			},
			Expect: suite.Expect,
		})
	}

	return cases, nil
}

func resolveLanguage(spec SpecLanguage, registry map[string]SpecLanguage) (SpecLanguage, error) {
	var eff SpecLanguage
	if spec.LangID != "" {
		base, ok := registry[spec.LangID]
		if !ok {
			return eff, fmt.Errorf("unknown language id: %s", spec.LangID)
		}
		eff = base
	}
	if spec.LangName != "" {
		eff.LangName = spec.LangName
	}
	if spec.CodeFname != "" {
		eff.CodeFname = spec.CodeFname
	}
	if spec.CompileCmd != "" {
		eff.CompileCmd = spec.CompileCmd
	}
	if spec.CompiledFname != "" {
		eff.CompiledFname = spec.CompiledFname
	}
	if spec.ExecCmd != "" {
		eff.ExecCmd = spec.ExecCmd
	}
	if eff.LangName == "" || eff.CodeFname == "" || eff.ExecCmd == "" {
		return eff, fmt.Errorf("language specification incomplete; require lang_name, code_fname, exec_cmd (lang_id=%q)", spec.LangID)
	}
	return eff, nil
}
