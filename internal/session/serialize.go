package session

import (
	"encoding/json"
	"fmt"

	"github.com/certrig/certrig/internal/job"
	"github.com/certrig/certrig/internal/resource"
	"github.com/certrig/certrig/internal/runner"
)

// appBlob is the application payload stored alongside the session state.
// The launcher text travels verbatim so a resuming process can rebuild
// the exact configuration the session was started with.
type appBlob struct {
	Launcher   string `json:"launcher"`
	Title      string `json:"title"`
	RunningJob string `json:"running_job,omitempty"`
}

// savedJob is one job definition inside a state blob, together with the
// local job that generated it.
type savedJob struct {
	job.Descriptor
	Via string `json:"via,omitempty"`
}

// stateBlob is the lossless serialized session: every job definition,
// every result, and the gathered resource facts.
type stateBlob struct {
	Status  Status                     `json:"status"`
	Jobs    []savedJob                 `json:"jobs"`
	Results map[string]*runner.Result  `json:"results,omitempty"`
	Facts   map[string][]resource.Fact `json:"facts,omitempty"`
}

// encodeLocked renders the app and state blobs. Callers hold a.mu.
func (a *Assistant) encodeLocked() (app, state []byte, err error) {
	blob := appBlob{
		Launcher:   a.launcherText,
		Title:      a.title,
		RunningJob: a.runningJob,
	}
	app, err = json.Marshal(blob)
	if err != nil {
		return nil, nil, fmt.Errorf("encode app blob: %w", err)
	}

	// A running session is stored as checkpointed: that is what the
	// snapshot represents once this process is gone.
	status := a.status
	if status == StatusRunning {
		status = StatusCheckpointed
	}
	sb := stateBlob{
		Status:  status,
		Jobs:    make([]savedJob, 0, len(a.order)),
		Results: make(map[string]*runner.Result),
		Facts:   a.facts,
	}
	for _, id := range a.order {
		s := a.states[id]
		sb.Jobs = append(sb.Jobs, savedJob{
			Descriptor: s.Job.ToDescriptor(),
			Via:        s.ViaJob,
		})
		if s.Result != nil {
			sb.Results[id] = s.Result
		}
	}
	state, err = json.Marshal(sb)
	if err != nil {
		return nil, nil, fmt.Errorf("encode state blob: %w", err)
	}
	return app, state, nil
}

func decodeAppBlob(data []byte) (appBlob, error) {
	var blob appBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return appBlob{}, fmt.Errorf("decode app blob: %w", err)
	}
	return blob, nil
}

// restore rebuilds the assistant's job state from a decoded state blob.
// Callers hold a.mu.
func (a *Assistant) restoreLocked(sb stateBlob) error {
	for _, saved := range sb.Jobs {
		j, err := job.FromDescriptor(saved.Descriptor)
		if err != nil {
			return fmt.Errorf("restore job: %w", err)
		}
		a.order = append(a.order, j.ID)
		a.states[j.ID] = &JobState{
			Job:    j,
			ViaJob: saved.Via,
			Result: sb.Results[j.ID],
		}
		if saved.Via != "" {
			a.via[j.ID] = saved.Via
		}
	}
	if sb.Facts != nil {
		a.facts = sb.Facts
	}
	return nil
}
