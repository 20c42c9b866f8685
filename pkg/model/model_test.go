package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttempt_Lifecycle(t *testing.T) {
	a := &Attempt{ID: "a1", Status: AttemptStatusQueued}
	assert.False(t, a.IsCompleted())

	a.SetInProgress()
	assert.Equal(t, AttemptStatusInProgress, a.Status)

	a.SetError("acoustic model unavailable")
	assert.True(t, a.IsCompleted())
	assert.True(t, a.CanRetry())
	require.NotNil(t, a.ErrorText)

	for i := 0; i < MaxAttemptRetries; i++ {
		a.IncrementRetries()
	}
	assert.False(t, a.CanRetry())

	a.SetCompleted("the cat", 91.5, true, "Great job!", JSONB{"overall": 0.9})
	assert.Equal(t, AttemptStatusDone, a.Status)
	assert.Nil(t, a.ErrorText)
	require.NotNil(t, a.Score)
	assert.Equal(t, 91.5, *a.Score)
	assert.True(t, *a.Passed)
	assert.False(t, a.CanRetry())
}

func TestJSONB_ValueScan(t *testing.T) {
	in := JSONB{"overall": 0.5, "words": []interface{}{"a"}}
	v, err := in.Value()
	require.NoError(t, err)

	var out JSONB
	require.NoError(t, out.Scan(v))
	assert.Equal(t, 0.5, out["overall"])

	require.NoError(t, out.Scan(`{"k":"v"}`))
	assert.Equal(t, "v", out["k"])

	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)

	assert.Error(t, out.Scan(42))

	v, err = JSONB(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestProgress_Add(t *testing.T) {
	var p Progress
	for _, k := range []ProgressKind{ProgressPhoneme, ProgressSyllable, ProgressPosition, ProgressSoundType, "bogus"} {
		p.Add(ProgressEntry{Kind: k, Key: "x"})
	}
	assert.Len(t, p.Phonemes, 1)
	assert.Len(t, p.Syllables, 1)
	assert.Len(t, p.Positions, 1)
	assert.Len(t, p.SoundTypes, 1)

	assert.True(t, ProgressSoundType.Valid())
	assert.False(t, ProgressKind("bogus").Valid())
}
