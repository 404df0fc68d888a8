package graph

import (
	"fmt"
	"sync"
)

// Tree is the evolving canonical tree for one crawl session. Attachments
// happen one writer at a time; Snapshot returns a deep copy readers can
// serialize while writers keep going.
type Tree struct {
	mu        sync.Mutex
	nextID    int
	root      *Node
	nodes     map[int]*Node
	depths    map[int]int
	relabeled bool
}

// NewTree creates a tree rooted at the seed URL and returns it together
// with the root's node id.
func NewTree(seedURL, name string) (*Tree, int) {
	root := &Node{
		Name:        name,
		Type:        TypeRoot,
		Description: "URL: " + seedURL,
		URL:         seedURL,
		Children:    []*Node{},
	}
	t := &Tree{
		nextID: 1,
		root:   root,
		nodes:  map[int]*Node{0: root},
		depths: map[int]int{0: 0},
	}
	return t, 0
}

// Attach appends a child under parentID and returns the new node id.
// The child's type tag is derived from its depth.
func (t *Tree) Attach(parentID int, url, name string, depth int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.nodes[parentID]
	if !ok {
		return 0, fmt.Errorf("attach: unknown parent node %d", parentID)
	}
	child := &Node{
		Name:        name,
		Type:        TypeForDepth(depth),
		Description: "URL: " + url,
		URL:         url,
		Children:    []*Node{},
	}
	id := t.nextID
	t.nextID++
	t.nodes[id] = child
	t.depths[id] = depth
	parent.Children = append(parent.Children, child)
	return id, nil
}

// MarkFailure rewrites a node in place to record a failed fetch. The
// node keeps its position, url, and type so the published structure
// still reflects the attempted crawl.
func (t *Tree) MarkFailure(id int, reason, detail string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("mark failure: unknown node %d", id)
	}
	node.Name = "Error: " + reason
	node.Description = detail
	return nil
}

// RelabelRoot sets the root's name to the fetched page title. Only the
// first call takes effect; the root is never renamed again afterwards.
func (t *Tree) RelabelRoot(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.relabeled || title == "" {
		return
	}
	t.root.Name = title
	t.relabeled = true
}

// Snapshot returns a deep copy of the tree safe to serialize while
// workers keep attaching.
func (t *Tree) Snapshot() *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root.Clone()
}

// Size returns the number of attached nodes including the root.
func (t *Tree) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}
