package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloSuccessTOML = `
[[scenarios]]
description = "hello, success"

[[scenarios.request]]
code = "print('ok')"

[scenarios.request.language]
lang_name = "python3"
code_fname = "main.py"
exec_cmd = "python3 main.py"

[[scenarios.request.tests]]
in = ""
ans = "ok\n"

[scenarios.expect]
status = "SUCCESS"

[[scenarios.expect.test_results]]
verdict = "AC"
`

func TestParseHelloSuccess(t *testing.T) {
	cases, err := Parse([]byte(helloSuccessTOML))
	require.NoError(t, err)
	require.Len(t, cases, 1)

	c := cases[0]
	assert.Equal(t, "hello, success", c.Name)
	assert.Equal(t, "print('ok')", c.Request.SourceCode)
	assert.Equal(t, "python3", c.Request.Language.Name)
	require.Len(t, c.Request.Tests, 1)
	assert.Equal(t, "ok\n", string(c.Request.Tests[0].AnswerContent))
	assert.Equal(t, "SUCCESS", c.Expect.Status)
	require.Len(t, c.Expect.TestResults, 1)
	assert.Equal(t, "AC", c.Expect.TestResults[0].Verdict)

	// defaults fill in when the scenario omits limits
	assert.Equal(t, int64(2000), c.Request.Limits.CPUTimeMillis)
	assert.Equal(t, int64(256*1024), c.Request.Limits.MemoryKiBytes)
}

const languageRegistryTOML = `
[[languages]]
id = "cpp17"
lang_name = "C++17"
code_fname = "main.cpp"
compile_cmd = "g++ -O2 -o main main.cpp"
compiled_fname = "main"
exec_cmd = "./main"

[[scenarios]]
description = "cpu limit"

[[scenarios.request]]
code = "int main(){for(;;);}"

[scenarios.request.language]
lang_id = "cpp17"

[scenarios.request.limits]
cpu_ms = 1000

[scenarios.expect]
status = "SUCCESS"

[[scenarios.expect.test_results]]
verdict = "TLE"
`

func TestParseResolvesLanguageByID(t *testing.T) {
	cases, err := Parse([]byte(languageRegistryTOML))
	require.NoError(t, err)
	require.Len(t, cases, 1)

	lang := cases[0].Request.Language
	assert.Equal(t, "C++17", lang.Name)
	assert.Equal(t, "main.cpp", lang.SourceFname)
	assert.Equal(t, "./main", lang.ExecCmd)
	assert.Equal(t, int64(1000), cases[0].Request.Limits.CPUTimeMillis)
}

func TestParseUnknownLanguageIDFails(t *testing.T) {
	_, err := Parse([]byte(`
[[scenarios]]
description = "bad"
[[scenarios.request]]
code = "x"
[scenarios.request.language]
lang_id = "nope"
`))
	assert.Error(t, err)
}

func TestParseMissingRequestBlockFails(t *testing.T) {
	_, err := Parse([]byte(`
[[scenarios]]
description = "empty"
`))
	assert.Error(t, err)
}
