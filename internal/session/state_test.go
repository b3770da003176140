package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certrig/certrig/internal/job"
)

func TestEffectiveCategoryID(t *testing.T) {
	generator := mkJob(t, job.Descriptor{
		ID: "audio", Plugin: "local", CategoryID: "com.certrig.default::audio-cat",
	})
	inherits := mkJob(t, job.Descriptor{ID: "audio/playback", Plugin: "shell"})
	explicit := mkJob(t, job.Descriptor{
		ID: "audio/volume", Plugin: "shell", CategoryID: "com.certrig.default::mixer",
	})
	orphan := mkJob(t, job.Descriptor{ID: "lone", Plugin: "shell"})

	states := map[string]*JobState{
		generator.ID: {Job: generator},
		inherits.ID:  {Job: inherits, ViaJob: generator.ID},
		explicit.ID:  {Job: explicit, ViaJob: generator.ID},
		orphan.ID:    {Job: orphan},
	}

	// A generated job without its own category takes the generator's.
	assert.Equal(t, "com.certrig.default::audio-cat", states[inherits.ID].EffectiveCategoryID(states))
	// An explicit category always wins.
	assert.Equal(t, "com.certrig.default::mixer", states[explicit.ID].EffectiveCategoryID(states))
	// No category anywhere falls back to the sentinel.
	assert.Equal(t, job.UncategorisedCategoryID, states[orphan.ID].EffectiveCategoryID(states))
}

func TestJobStateReady(t *testing.T) {
	s := &JobState{Job: mkJob(t, job.Descriptor{ID: "a", Plugin: "shell"})}
	require.True(t, s.Ready())
	s.ReadinessInhibitors = []string{"requirement not met: x.y == \"z\""}
	require.False(t, s.Ready())
}
