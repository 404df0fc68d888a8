package adapt

import (
	"encoding/json"
	"fmt"

	"github.com/xxllxllxlllx/live-graph-system/internal/crawl"
	"github.com/xxllxllxlllx/live-graph-system/internal/graph"
)

// foreignNode is the untrusted wire shape of a recursive tree document.
// Unknown fields are dropped during unmarshaling.
type foreignNode struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Description string        `json:"description"`
	URL         string        `json:"url"`
	Children    []foreignNode `json:"children"`
}

// RecursiveTree converts a foreign recursive tree JSON document into the
// canonical tree. Type tags are recomputed from depth and URLs are
// recanonicalized; nodes whose URL does not canonicalize keep the
// original string and get a parse warning in their description.
func RecursiveTree(data []byte) (*graph.Node, error) {
	var in foreignNode
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parse tree json: %w", err)
	}
	root := sanitize(in)
	root.Normalize()
	return root, nil
}

func sanitize(in foreignNode) *graph.Node {
	out := &graph.Node{
		Name:        in.Name,
		Description: in.Description,
		URL:         in.URL,
		Children:    make([]*graph.Node, 0, len(in.Children)),
	}
	if in.URL != "" {
		if canonical, err := crawl.CanonicalizeSeed(in.URL); err == nil {
			out.URL = canonical
		} else {
			out.Description = in.Description + " [unparsed url]"
		}
	}
	for _, c := range in.Children {
		out.Children = append(out.Children, sanitize(c))
	}
	return out
}
