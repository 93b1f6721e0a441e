package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lvgrader/grader/internal/gradererr"
	"github.com/lvgrader/grader/internal/model"
)

func TestClassifyPrecedence(t *testing.T) {
	limits := model.ResourceLimits{CPUTimeMillis: 1000, WallTimeMillis: 2000, MemoryKiBytes: 65536}

	memSig := int64(11)
	cases := []struct {
		name string
		info model.ExecutionInfo
		want model.Classification
	}{
		{"internal error always wins", model.ExecutionInfo{Classification: model.ClassInternal, MemoryKiBytes: 99999}, model.ClassInternal},
		{"memory over cpu", model.ExecutionInfo{MemoryKiBytes: 65536, CPUTimeMillis: 1000}, model.ClassMemoryLimit},
		{"cpu over wall", model.ExecutionInfo{CPUTimeMillis: 1000, WallTimeMillis: 2000}, model.ClassTimeLimit},
		{"wall alone", model.ExecutionInfo{WallTimeMillis: 2000}, model.ClassTimeLimit},
		{"signal over nonzero", model.ExecutionInfo{ExitSignal: &memSig, ExitCode: 1}, model.ClassSignal},
		{"nonzero exit", model.ExecutionInfo{ExitCode: 7}, model.ClassNonzero},
		{"clean success", model.ExecutionInfo{}, model.ClassSuccess},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, classify(c.info, limits))
		})
	}
}

func TestClassifyZeroLimitsNeverTrip(t *testing.T) {
	info := model.ExecutionInfo{MemoryKiBytes: 1 << 20, CPUTimeMillis: 1 << 20, WallTimeMillis: 1 << 20}
	assert.Equal(t, model.ClassSuccess, classify(info, model.ResourceLimits{}))
}

func TestValidateNamesRejectsSlashAndNUL(t *testing.T) {
	err := validateNames(model.RunRequest{
		Inputs: []model.FileInfo{{Path: "a/b"}},
	})
	require := assert.New(t)
	require.Error(err)
	var ge *gradererr.Error
	require.ErrorAs(err, &ge)
	require.Equal(gradererr.KindInvalidArgument, ge.Kind)

	err = validateNames(model.RunRequest{OutputNames: []string{"out\x00put"}})
	require.Error(err)

	err = validateNames(model.RunRequest{Inputs: []model.FileInfo{{Path: "plain.txt"}}})
	require.NoError(err)
}
