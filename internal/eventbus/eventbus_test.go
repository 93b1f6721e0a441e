package eventbus

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvgrader/grader/internal/model"
)

// TestEventOrderingThenStop mirrors scenario 6 from the testable
// properties: enqueue two events, stop, and expect Dequeue to drain both
// in order before reporting the bus finished.
func TestEventOrderingThenStop(t *testing.T) {
	b := New("session-a")
	b.StartCompile()
	b.FinishCompile(nil)
	b.Stop()

	ev1, ok := b.Dequeue()
	require.True(t, ok)
	assert.Equal(t, model.EventGenerating, ev1.Status)

	ev2, ok := b.Dequeue()
	require.True(t, ok)
	assert.Equal(t, model.EventGenerated, ev2.Status)

	_, ok = b.Dequeue()
	assert.False(t, ok)
}

func TestStopIsIdempotent(t *testing.T) {
	b := New("session-b")
	assert.NotPanics(t, func() {
		b.Stop()
		b.Stop()
	})
}

func TestTrimToRectTruncatesHeightAndWidth(t *testing.T) {
	tall := strings.Repeat("line\n", maxHeight+5)
	got := trimToRect(tall)
	lines := strings.Split(got, "\n")
	assert.LessOrEqual(t, len(lines), maxHeight+1)
	assert.Contains(t, got, "[...]")

	wide := strings.Repeat("x", maxWidth+10)
	got = trimToRect(wide)
	assert.True(t, strings.HasPrefix(got, strings.Repeat("x", maxWidth)))
	assert.Contains(t, got, "[...]")
}

func TestTruncateNeverMutatesNilInfo(t *testing.T) {
	assert.Nil(t, truncate(nil))
}

func TestFinishTestCarriesSubmissionAndChecker(t *testing.T) {
	b := New("session-c")
	sub := &model.ExecutionInfo{ExitCode: 0}
	chk := &model.ExecutionInfo{Message: "ok"}
	b.FinishTest(3, sub, chk)
	b.Stop()

	ev, ok := b.Dequeue()
	require.True(t, ok)
	require.NotNil(t, ev.TestID)
	assert.Equal(t, 3, *ev.TestID)
	require.NotNil(t, ev.Info)
	assert.Equal(t, "ok", ev.Info.Message)
}
