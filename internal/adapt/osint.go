package adapt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/xxllxllxlllx/live-graph-system/internal/crawl"
	"github.com/xxllxllxlllx/live-graph-system/internal/graph"
)

// osintEntry is one record of the flat TorBot output shape.
type osintEntry struct {
	URL            string   `json:"url"`
	Emails         []string `json:"emails"`
	Phones         []string `json:"phones"`
	Status         any      `json:"status"`
	Classification string   `json:"classification"`
}

// OsintInput is the tagged variant the TorBot adapter dispatches on.
type OsintInput struct {
	Recursive []byte
	Flat      []osintEntry
}

// ParseOsint discriminates the two TorBot output shapes structurally: a
// JSON array is the flat entry list, an object is a recursive tree.
func ParseOsint(data []byte) (OsintInput, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return OsintInput{}, fmt.Errorf("empty torbot output")
	}
	switch trimmed[0] {
	case '[':
		var entries []osintEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return OsintInput{}, fmt.Errorf("parse torbot entries: %w", err)
		}
		return OsintInput{Flat: entries}, nil
	case '{':
		return OsintInput{Recursive: trimmed}, nil
	default:
		return OsintInput{}, fmt.Errorf("unrecognized torbot output shape")
	}
}

// TorBotJSON converts TorBot output into the canonical tree. Recursive
// input goes through the tree adapter; flat input is grouped by host
// under a synthetic root.
func TorBotJSON(data []byte, startingURL string) (*graph.Node, error) {
	input, err := ParseOsint(data)
	if err != nil {
		return nil, err
	}
	if input.Recursive != nil {
		return RecursiveTree(input.Recursive)
	}
	return flatOsintTree(input.Flat, startingURL), nil
}

func flatOsintTree(entries []osintEntry, startingURL string) *graph.Node {
	root := &graph.Node{
		Name:        "TorBot OSINT Results: " + startingURL,
		Description: "TorBot OSINT intelligence gathering results from " + startingURL,
		URL:         startingURL,
		Children:    []*graph.Node{},
	}

	hosts := make(map[string]*graph.Node)
	hostNode := func(host, hostURL string) *graph.Node {
		if n, ok := hosts[host]; ok {
			return n
		}
		n := &graph.Node{
			Name:        host,
			Description: "Links discovered on " + host,
			URL:         hostURL,
			Children:    []*graph.Node{},
		}
		hosts[host] = n
		root.Children = append(root.Children, n)
		return n
	}

	for _, entry := range entries {
		canonical, cerr := crawl.CanonicalizeSeed(entry.URL)
		var parent *graph.Node
		entryURL := entry.URL
		if cerr != nil {
			parent = hostNode("_unparsed", "")
		} else {
			entryURL = canonical
			host := crawl.Host(canonical)
			parent = hostNode(host, hostBase(canonical))
		}
		name := entryURL
		if name == "" {
			name = "Untitled"
		}
		parent.Children = append(parent.Children, &graph.Node{
			Name:        name,
			Description: entryDescription(entry, entryURL),
			URL:         entryURL,
			Children:    []*graph.Node{},
		})
	}

	root.Normalize()
	return root
}

func hostBase(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// entryDescription folds the OSINT metadata into a compact string like
// "status=200; email=a@b; phone=+1555".
func entryDescription(entry osintEntry, entryURL string) string {
	var parts []string
	if entry.Status != nil {
		parts = append(parts, fmt.Sprintf("status=%v", entry.Status))
	}
	if entry.Classification != "" {
		parts = append(parts, "classification="+entry.Classification)
	}
	for _, email := range entry.Emails {
		parts = append(parts, "email="+email)
	}
	for _, phone := range entry.Phones {
		parts = append(parts, "phone="+phone)
	}
	if len(parts) == 0 {
		return "URL: " + entryURL
	}
	return strings.Join(parts, "; ")
}
