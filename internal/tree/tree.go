// Package tree builds the rooted category tree out of a flat job list and
// the via relation, and layers per-session selection state on top of it.
//
// A tree consists of CategoryNode values connected hierarchically: nodes are
// categories, and the jobs belonging to a category are the node's leaves.
//
//	       / Job A
//	 Root-|
//	      |                 / Job B
//	       \--- Category X |
//	                        \ Job C
package tree

import (
	"fmt"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/certrig/certrig/internal/job"
)

// RootName is the name of the implicit root node.
const RootName = "Root"

// CategoryNode is one category in the tree. Child categories are kept
// sorted by name and leaf jobs by id, so index-based lookup stays stable
// across rebuilds.
type CategoryNode struct {
	Name       string
	Parent     *CategoryNode
	Categories []*CategoryNode
	Jobs       []*job.Job

	collator *collate.Collator
}

func newCategoryNode(name string, c *collate.Collator) *CategoryNode {
	if name == "" {
		name = RootName
	}
	return &CategoryNode{Name: name, collator: c}
}

// Depth is the number of ancestors between this node and the root.
func (n *CategoryNode) Depth() int {
	if n.Parent == nil {
		return 0
	}
	return n.Parent.Depth() + 1
}

// AddCategory attaches a child category, keeping the children sorted by
// name so a given child can be found by index.
func (n *CategoryNode) AddCategory(category *CategoryNode) {
	n.Categories = append(n.Categories, category)
	sort.SliceStable(n.Categories, func(i, j int) bool {
		return n.collator.CompareString(n.Categories[i].Name, n.Categories[j].Name) < 0
	})
	category.Parent = n
}

// AddJob attaches a leaf job, keeping the leaves sorted by id.
func (n *CategoryNode) AddJob(j *job.Job) {
	n.Jobs = append(n.Jobs, j)
	sort.SliceStable(n.Jobs, func(i, j int) bool {
		return n.Jobs[i].ID < n.Jobs[j].ID
	})
}

// Descendants returns all descendant category nodes, depth-first.
func (n *CategoryNode) Descendants() []*CategoryNode {
	var out []*CategoryNode
	for _, category := range n.Categories {
		out = append(out, category)
		out = append(out, category.Descendants()...)
	}
	return out
}

func (n *CategoryNode) String() string {
	return n.Name
}

// Builder assembles a CategoryNode tree from jobs and the via relation.
// It is single-use: create a fresh one for every build.
type Builder struct {
	root     *CategoryNode
	jobs     map[string]*job.Job
	via      map[string]string
	nodes    map[string]*CategoryNode
	building map[string]bool
	collator *collate.Collator
}

// Build constructs the category tree for jobs in input order. via maps a
// job id to the id of the job whose execution discovered it; ids absent
// from the map hang off the root. A cyclic via chain is rejected with a
// ConfigurationError instead of producing a detached loop.
func Build(jobs []*job.Job, via map[string]string) (*CategoryNode, error) {
	c := collate.New(language.Und)
	b := &Builder{
		root:     newCategoryNode("", c),
		jobs:     make(map[string]*job.Job, len(jobs)),
		via:      via,
		nodes:    make(map[string]*CategoryNode),
		building: make(map[string]bool),
		collator: c,
	}
	for _, j := range jobs {
		b.jobs[j.ID] = j
	}
	for _, j := range jobs {
		if err := b.addJob(j); err != nil {
			return nil, err
		}
	}
	return b.root, nil
}

func (b *Builder) addJob(j *job.Job) error {
	if j.Plugin == job.PluginLocal {
		// Local jobs are pure category markers: create the node but do not
		// attach the job itself as a leaf.
		_, err := b.getOrCreateCategoryNode(j)
		return err
	}
	node, err := b.getOrCreateCategoryNode(b.viaJob(j.ID))
	if err != nil {
		return err
	}
	node.AddJob(j)
	return nil
}

// viaJob resolves the job that discovered id, or nil for the root.
func (b *Builder) viaJob(id string) *job.Job {
	parentID, ok := b.via[id]
	if !ok || parentID == "" {
		return nil
	}
	return b.jobs[parentID]
}

// getOrCreateCategoryNode resolves the node for a category-defining job.
// nil means the root. New nodes take their name from the defining job's
// summary, falling back to the description when no real summary was
// authored (summary equal to the partial id). The node's own parent is
// resolved recursively through the via relation.
func (b *Builder) getOrCreateCategoryNode(categoryJob *job.Job) (*CategoryNode, error) {
	if categoryJob == nil {
		return b.root, nil
	}
	if node, ok := b.nodes[categoryJob.ID]; ok {
		return node, nil
	}
	if b.building[categoryJob.ID] {
		return nil, &job.ConfigurationError{
			What:   "category tree",
			Reason: fmt.Sprintf("cyclic via chain through %q", categoryJob.ID),
		}
	}
	b.building[categoryJob.ID] = true
	defer delete(b.building, categoryJob.ID)

	name := categoryJob.Summary
	if name == categoryJob.PartialID {
		name = categoryJob.Description
	}
	node := newCategoryNode(name, b.collator)

	parent, err := b.getOrCreateCategoryNode(b.viaJob(categoryJob.ID))
	if err != nil {
		return nil, err
	}
	parent.AddCategory(node)
	b.nodes[categoryJob.ID] = node
	return node, nil
}
