package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeForDepth_Mapping(t *testing.T) {
	t.Parallel()

	require.Equal(t, TypeRoot, TypeForDepth(0))
	require.Equal(t, TypeCategory, TypeForDepth(1))
	require.Equal(t, TypeSubcategory, TypeForDepth(2))
	require.Equal(t, TypeItem, TypeForDepth(3))
	require.Equal(t, TypeItem, TypeForDepth(9))
}

func TestNode_Normalize_RederivesTypes(t *testing.T) {
	t.Parallel()

	n := &Node{
		Name: "root",
		Type: "item",
		Children: []*Node{
			{Name: "a", Type: "root", Children: []*Node{
				{Name: "b", Type: "category"},
			}},
		},
	}
	n.Normalize()

	require.Equal(t, TypeRoot, n.Type)
	require.Equal(t, TypeCategory, n.Children[0].Type)
	require.Equal(t, TypeSubcategory, n.Children[0].Children[0].Type)
	require.NotNil(t, n.Children[0].Children[0].Children)
}

func TestNode_Clone_IsIndependent(t *testing.T) {
	t.Parallel()

	orig := &Node{Name: "root", Children: []*Node{{Name: "child"}}}
	copy := orig.Clone()
	copy.Name = "changed"
	copy.Children[0].Name = "changed-child"

	require.Equal(t, "root", orig.Name)
	require.Equal(t, "child", orig.Children[0].Name)
}

func TestNode_Count(t *testing.T) {
	t.Parallel()

	n := &Node{Children: []*Node{{}, {Children: []*Node{{}}}}}
	require.Equal(t, 4, n.Count())
	require.Equal(t, 0, (*Node)(nil).Count())
}

func TestEmptyDocument_Serialization(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(EmptyDocument())
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"","type":"root","description":"","url":"","children":[]}`, string(data))
}

func TestNode_KeyOrderIsStable(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(&Node{Name: "n", Type: "root", Description: "d", URL: "u", Children: []*Node{}})
	require.NoError(t, err)
	require.Equal(t, `{"name":"n","type":"root","description":"d","url":"u","children":[]}`, string(data))
}
