package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceRunsPhasesInOrder(t *testing.T) {
	var trace []string
	seq := NewSequence(
		Phase{
			Label: "first",
			Count: 3,
			Chunk: 2,
			Begin: func() int { trace = append(trace, "begin1"); return -1 },
			Do:    func(i int) { trace = append(trace, "a") },
			End:   func() { trace = append(trace, "end1") },
		},
		Phase{
			Label: "second",
			Begin: func() int { trace = append(trace, "begin2"); return 1 },
			Do:    func(i int) { trace = append(trace, "b") },
		},
	)

	var reports []Progress
	require.NoError(t, Run(context.Background(), seq, func(p Progress) { reports = append(reports, p) }))

	assert.Equal(t, []string{"begin1", "a", "a", "a", "end1", "begin2", "b"}, trace)
	require.Len(t, reports, 3)
	assert.Equal(t, "first", reports[0].Label)
	assert.InDelta(t, 1.0/3.0, reports[0].Fraction, 1e-6)
	assert.Equal(t, "second", reports[2].Label)
	assert.True(t, seq.Done())
}

func TestSequenceSkipsEmptyPhases(t *testing.T) {
	ended := 0
	seq := NewSequence(
		Phase{Label: "empty", End: func() { ended++ }},
		Phase{Label: "also empty", End: func() { ended++ }},
	)

	p := seq.Step()
	assert.True(t, seq.Done())
	assert.Equal(t, 2, ended)
	assert.Equal(t, float32(1), p.Fraction)

	// Stepping a finished job does nothing
	seq.Step()
	assert.Equal(t, 2, ended)
}

func TestRunCancelled(t *testing.T) {
	processed := 0
	seq := NewSequence(Phase{Label: "work", Count: 10, Do: func(int) { processed++ }})

	ctx, cancel := context.WithCancel(context.Background())
	err := Run(ctx, seq, func(p Progress) {
		if processed == 4 {
			cancel()
		}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 4, processed, "partial work stays applied")
	assert.False(t, seq.Done())

	// The caller may resume driving it
	Drain(seq)
	assert.Equal(t, 10, processed)
}

func TestProgressString(t *testing.T) {
	assert.Equal(t, "sampling  50%", Progress{Label: "sampling", Fraction: 0.5}.String())
}
