package tree

import (
	"strings"

	"github.com/certrig/certrig/internal/job"
)

// SelectableNode wraps a category tree with per-job selection flags, a
// node-level selected flag, and an expanded flag for list rendering.
// Selection and expansion are session/UI state; the underlying tree shape
// stays immutable.
//
// Resource jobs are never shown: they are diverted into a hidden list at
// insertion so the operator cannot toggle them, but Selection still
// returns them so the run list keeps every fact-gathering job it needs.
type SelectableNode struct {
	Name       string
	Parent     *SelectableNode
	Categories []*SelectableNode
	Jobs       []*job.Job
	// JobSelection holds the per-job selection flag, keyed by job id.
	JobSelection map[string]bool
	Selected     bool
	Expanded     bool

	resourceJobs []*job.Job
}

// NewSelectable builds a fully-selected, fully-expanded selectable tree
// for the given jobs and via relation.
func NewSelectable(jobs []*job.Job, via map[string]string) (*SelectableNode, error) {
	root, err := Build(jobs, via)
	if err != nil {
		return nil, err
	}
	return wrapNode(root, nil), nil
}

func wrapNode(n *CategoryNode, parent *SelectableNode) *SelectableNode {
	s := &SelectableNode{
		Name:         n.Name,
		Parent:       parent,
		JobSelection: make(map[string]bool),
		Selected:     true,
		Expanded:     true,
	}
	for _, category := range n.Categories {
		s.Categories = append(s.Categories, wrapNode(category, s))
	}
	for _, j := range n.Jobs {
		if j.Plugin == job.PluginResource {
			s.resourceJobs = append(s.resourceJobs, j)
			continue
		}
		s.Jobs = append(s.Jobs, j)
		s.JobSelection[j.ID] = true
	}
	return s
}

// Depth is the number of ancestors between this node and the root.
func (s *SelectableNode) Depth() int {
	if s.Parent == nil {
		return 0
	}
	return s.Parent.Depth() + 1
}

// SetDescendantsState forces the selection flag of every descendant job
// and category to state, top-down and unconditionally.
func (s *SelectableNode) SetDescendantsState(state bool) {
	s.Selected = state
	for id := range s.JobSelection {
		s.JobSelection[id] = state
	}
	for _, category := range s.Categories {
		category.SetDescendantsState(state)
	}
}

// UpdateSelectedState recomputes this node's selected flag as the OR over
// its direct jobs' flags and its child categories' flags. It does not
// recurse upward.
func (s *SelectableNode) UpdateSelectedState() {
	for _, selected := range s.JobSelection {
		if selected {
			s.Selected = true
			return
		}
	}
	for _, category := range s.Categories {
		if category.Selected {
			s.Selected = true
			return
		}
	}
	s.Selected = false
}

// SetAncestorsState walks from the immediate parent to the root, asking
// each ancestor to recompute itself from its own children. A true value
// always propagates up; a false value only sticks when no sibling keeps
// the ancestor selected.
func (s *SelectableNode) SetAncestorsState() {
	for parent := s.Parent; parent != nil; parent = parent.Parent {
		parent.UpdateSelectedState()
	}
}

// Row is one visible row of the flattened tree: either a category or a
// job together with the category that owns it.
type Row struct {
	Category *SelectableNode
	Job      *job.Job
	Owner    *SelectableNode
}

// NodeByIndex flattens the expanded tree depth-first, categories before
// jobs, and returns the index-th visible row. Past-the-end access returns
// nil rather than an error.
func (s *SelectableNode) NodeByIndex(index int) *Row {
	row, _ := s.walkVisible(index, 0)
	return row
}

func (s *SelectableNode) walkVisible(target, counted int) (*Row, int) {
	if !s.Expanded {
		return nil, counted
	}
	for _, category := range s.Categories {
		if counted == target {
			return &Row{Category: category}, counted
		}
		counted++
		var row *Row
		row, counted = category.walkVisible(target, counted)
		if row != nil {
			return row, counted
		}
	}
	for _, j := range s.Jobs {
		if counted == target {
			return &Row{Job: j, Owner: s}, counted
		}
		counted++
	}
	return nil, counted
}

// Render returns the tree as one display line per visible row. Each line
// carries a "[X]"/"[ ]" selection mark, indentation matching the tree
// depth, and "-"/"+" for expanded/collapsed categories with children.
// Lines longer than cols are cut and elided.
func (s *SelectableNode) Render(cols int) []string {
	var lines []string
	if !s.Expanded {
		return lines
	}
	indent := strings.Repeat("   ", s.Depth())
	for _, category := range s.Categories {
		prefix := "[ ]"
		if category.Selected {
			prefix = "[X]"
		}
		marker := "   "
		if len(category.Jobs) > 0 || len(category.Categories) > 0 {
			if category.Expanded {
				marker = " - "
			} else {
				marker = " + "
			}
		}
		lines = append(lines, truncate(prefix+indent+marker+category.Name, cols))
		lines = append(lines, category.Render(cols)...)
	}
	for _, j := range s.Jobs {
		prefix := "[ ]"
		if s.JobSelection[j.ID] {
			prefix = "[X]"
		}
		lines = append(lines, truncate(prefix+indent+"   "+j.Summary, cols))
	}
	return lines
}

func truncate(line string, cols int) string {
	if len(line) <= cols {
		return line
	}
	// Room for the ellipsis and a space. Narrower columns keep just the
	// ellipsis rather than slicing out of range.
	cut := cols - 4
	if cut < 0 {
		cut = 0
	}
	return line[:cut] + "..."
}

// Selection returns every job that must run: jobs whose own flag is set
// plus every tracked resource job, even though resource jobs never carry
// a selection flag of their own.
func (s *SelectableNode) Selection() []*job.Job {
	selected := s.selectedJobs()
	if len(selected) == 0 {
		return selected
	}
	return append(selected, s.ResourceJobs()...)
}

func (s *SelectableNode) selectedJobs() []*job.Job {
	var out []*job.Job
	for _, category := range s.Categories {
		out = append(out, category.selectedJobs()...)
	}
	for _, j := range s.Jobs {
		if s.JobSelection[j.ID] {
			out = append(out, j)
		}
	}
	return out
}

// ResourceJobs returns the hidden resource jobs tracked anywhere in the
// tree.
func (s *SelectableNode) ResourceJobs() []*job.Job {
	var out []*job.Job
	for _, category := range s.Categories {
		out = append(out, category.ResourceJobs()...)
	}
	return append(out, s.resourceJobs...)
}
