package session

import (
	"fmt"
	"strings"

	"github.com/certrig/certrig/internal/job"
	"github.com/certrig/certrig/internal/resource"
	"github.com/certrig/certrig/internal/runner"
)

// Status is the lifecycle phase of a session.
type Status string

const (
	// StatusFresh means the session exists but has not run anything.
	StatusFresh Status = "fresh"
	// StatusRunning means job execution is in progress.
	StatusRunning Status = "running"
	// StatusCompleted means the selected jobs all finished.
	StatusCompleted Status = "completed"
	// StatusCheckpointed is the stored phase of a session that was
	// running when its snapshot was written; it marks the snapshot as
	// mid-run rather than finished.
	StatusCheckpointed Status = "checkpointed"
	// StatusResumed means the session was rebuilt from a checkpoint.
	StatusResumed Status = "resumed"
)

// JobState is the per-session mutable state attached to one job.
type JobState struct {
	Job *job.Job
	// ViaJob is the id of the local job whose output generated this job,
	// empty for jobs loaded from files.
	ViaJob string
	// ReadinessInhibitors lists the reasons the job cannot run right now.
	// Empty means the job is ready.
	ReadinessInhibitors []string
	// Result is nil until the job has run.
	Result *runner.Result
}

// Ready reports whether nothing inhibits the job from running.
func (s *JobState) Ready() bool {
	return len(s.ReadinessInhibitors) == 0
}

// EffectiveCategoryID resolves the category shown for this job: its own
// category unless it is the uncategorised sentinel and a generating local
// job supplies one.
func (s *JobState) EffectiveCategoryID(states map[string]*JobState) string {
	if s.Job.CategoryID != job.UncategorisedCategoryID {
		return s.Job.CategoryID
	}
	if s.ViaJob != "" {
		if via, ok := states[s.ViaJob]; ok && via.Job.CategoryID != job.UncategorisedCategoryID {
			return via.Job.CategoryID
		}
	}
	return job.UncategorisedCategoryID
}

// qualify expands a bare dependency id with the referring job's namespace.
func qualify(id, referrer string) string {
	if strings.Contains(id, job.NamespaceSeparator) {
		return id
	}
	sep := strings.Index(referrer, job.NamespaceSeparator)
	if sep < 0 {
		return job.DefaultNamespace + job.NamespaceSeparator + id
	}
	return referrer[:sep] + job.NamespaceSeparator + id
}

// computeInhibitors evaluates one job's dependencies and resource
// requirements against the current session state. Order is stable:
// dependency problems first, then requirement problems in expression
// order.
func computeInhibitors(s *JobState, states map[string]*JobState, facts map[string][]resource.Fact) ([]string, error) {
	var inhibitors []string

	for _, dep := range s.Job.DirectDependencies() {
		depID := qualify(dep, s.Job.ID)
		depState, ok := states[depID]
		if !ok {
			inhibitors = append(inhibitors, fmt.Sprintf("depends on unknown job %s", depID))
			continue
		}
		switch {
		case depState.Result == nil:
			inhibitors = append(inhibitors, fmt.Sprintf("depends on job %s which has not run", depID))
		case depState.Result.Outcome != runner.OutcomePass:
			inhibitors = append(inhibitors, fmt.Sprintf("depends on job %s which did not pass", depID))
		}
	}

	if s.Job.RequiresExpr != "" {
		reqs, err := resource.ParseRequirements(s.Job.RequiresExpr)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", s.Job.ID, err)
		}
		for _, req := range reqs {
			if !req.Satisfied(facts) {
				inhibitors = append(inhibitors, fmt.Sprintf("requirement not met: %s", req))
			}
		}
	}

	return inhibitors, nil
}
