package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/node"
)

func names(children []node.NamedNode) []string {
	out := make([]string, len(children))
	for i, c := range children {
		out[i] = c.Name
	}
	return out
}

func TestSortedChildren(t *testing.T) {
	data := node.MustFromValue(map[string]any{
		"b":  map[string]any{"age": 30, ".priority": 1},
		"a":  map[string]any{"age": 20, ".priority": 2},
		"10": map[string]any{"age": 20},
		"2":  map[string]any{"age": "old", ".priority": "z"},
	})

	tests := []struct {
		name  string
		index Index
		want  []string
	}{
		{"key", Key, []string{"2", "10", "a", "b"}},
		{"priority", Priority, []string{"10", "b", "a", "2"}},
		{"child", ByChild(node.ParsePath("age")), []string{"10", "a", "b", "2"}},
		{"value ties broken by key", Value, []string{"2", "10", "a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(tt.index.SortedChildren(data)))
		})
	}
}

func TestValueIndexCrossType(t *testing.T) {
	data := node.MustFromValue(map[string]any{
		"obj": map[string]any{"x": 1},
		"str": "s",
		"num": 3,
		"t":   true,
		"f":   false,
	})
	assert.Equal(t, []string{"f", "t", "num", "str", "obj"}, names(Value.SortedChildren(data)))
}

func TestPosts(t *testing.T) {
	indexes := []Index{Key, Priority, Value, ByChild(node.ParsePath("a/b"))}
	child := node.NamedNode{Name: "k", Node: node.MustFromValue(map[string]any{"a": map[string]any{"b": "zzz"}, ".priority": "zzz"})}

	for _, idx := range indexes {
		t.Run(idx.WireName(), func(t *testing.T) {
			assert.Equal(t, -1, idx.Compare(idx.MinPost(), child))
			assert.Equal(t, 1, idx.Compare(idx.MaxPost(), child))
			assert.Equal(t, -1, idx.Compare(idx.MinPost(), idx.MaxPost()))
		})
	}
}

func TestMakePostBounds(t *testing.T) {
	idx := ByChild(node.ParsePath("age"))
	post := idx.MakePost(node.MustFromValue(20), node.MinName)
	atBound := node.NamedNode{Name: "a", Node: node.MustFromValue(map[string]any{"age": 20})}
	below := node.NamedNode{Name: "b", Node: node.MustFromValue(map[string]any{"age": 19})}

	assert.Equal(t, -1, idx.Compare(post, atBound))
	assert.Equal(t, 1, idx.Compare(post, below))

	prio := Priority.MakePost(node.MustFromValue(5), "m")
	assert.Equal(t, -1, Priority.Compare(prio, node.NamedNode{Name: "z", Node: node.MustFromValue(map[string]any{"x": 1, ".priority": 5})}))
	assert.Equal(t, 1, Priority.Compare(prio, node.NamedNode{Name: "a", Node: node.MustFromValue(map[string]any{"x": 1, ".priority": 5})}))
}

func TestIsDefinedOn(t *testing.T) {
	withPriority := node.MustFromValue(map[string]any{"x": 1, ".priority": 1})
	plain := node.MustFromValue(map[string]any{"x": 1})

	assert.True(t, Key.IsDefinedOn(plain))
	assert.True(t, Value.IsDefinedOn(plain))
	assert.True(t, Priority.IsDefinedOn(withPriority))
	assert.False(t, Priority.IsDefinedOn(plain))
	assert.True(t, ByChild(node.ParsePath("x")).IsDefinedOn(plain))
	assert.False(t, ByChild(node.ParsePath("y")).IsDefinedOn(plain))
}

func TestIndexedValueChanged(t *testing.T) {
	old := node.MustFromValue(map[string]any{"age": 1, "name": "a"})
	renamed := node.MustFromValue(map[string]any{"age": 1, "name": "b"})
	aged := node.MustFromValue(map[string]any{"age": 2, "name": "a"})
	byAge := ByChild(node.ParsePath("age"))

	assert.False(t, byAge.IndexedValueChanged(old, renamed))
	assert.True(t, byAge.IndexedValueChanged(old, aged))
	assert.False(t, Key.IndexedValueChanged(old, aged))
	assert.True(t, Value.IndexedValueChanged(old, renamed))
}

func TestValidateBound(t *testing.T) {
	str := node.MustFromValue("a")
	num := node.MustFromValue(1)
	boolean := node.MustFromValue(true)
	obj := node.MustFromValue(map[string]any{"a": 1})

	assert.NoError(t, Key.ValidateBound(str, false))
	assert.Error(t, Key.ValidateBound(num, false))
	assert.Error(t, Key.ValidateBound(str, true))
	assert.NoError(t, Priority.ValidateBound(node.Empty(), true))
	assert.NoError(t, Priority.ValidateBound(num, true))
	assert.Error(t, Priority.ValidateBound(boolean, false))
	assert.NoError(t, Value.ValidateBound(boolean, true))
	assert.Error(t, Value.ValidateBound(obj, false))
}

func TestWireNames(t *testing.T) {
	for _, idx := range []Index{Key, Priority, Value, ByChild(node.ParsePath("a/b"))} {
		back, err := FromWireName(idx.WireName())
		require.NoError(t, err)
		assert.True(t, idx.Equal(back), idx.WireName())
	}
	assert.Equal(t, "a/b", ByChild(node.ParsePath("/a/b")).WireName())
	_, err := FromWireName("")
	assert.Error(t, err)
	assert.Panics(t, func() { Index{}.WireName() })
}
