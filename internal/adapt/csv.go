package adapt

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xxllxllxlllx/live-graph-system/internal/graph"
)

// OnionSearchCSV converts OnionSearch result rows (engine,name,url) into
// the canonical tree: one category per engine in first-appearance order,
// one subcategory per row beneath its engine.
func OnionSearchCSV(r io.Reader, query string) (*graph.Node, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	root := &graph.Node{
		Name:        "OnionSearch Results: " + query,
		Type:        graph.TypeRoot,
		Description: fmt.Sprintf("Search results for %q from multiple onion search engines", query),
		URL:         "search://" + query,
		Children:    []*graph.Node{},
	}

	engines := make(map[string]*graph.Node)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read onionsearch csv: %w", err)
		}
		if len(record) < 3 {
			continue
		}
		engine := strings.TrimSpace(record[0])
		name := strings.TrimSpace(record[1])
		rowURL := strings.TrimSpace(record[2])
		if engine == "" || rowURL == "" {
			continue
		}
		if name == "" {
			name = "Untitled"
		}

		parent, ok := engines[engine]
		if !ok {
			parent = &graph.Node{
				Name:        engine,
				Type:        graph.TypeCategory,
				Description: fmt.Sprintf("Results from %s search engine", engine),
				URL:         "search://" + query + "/" + engine,
				Children:    []*graph.Node{},
			}
			engines[engine] = parent
			root.Children = append(root.Children, parent)
		}
		parent.Children = append(parent.Children, &graph.Node{
			Name:        name,
			Type:        graph.TypeSubcategory,
			Description: fmt.Sprintf("Search result from %s", engine),
			URL:         rowURL,
			Children:    []*graph.Node{},
		})
	}
	return root, nil
}
