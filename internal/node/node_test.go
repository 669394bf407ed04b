package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetThenGetRoundTrip(t *testing.T) {
	bases := []any{
		nil,
		"leaf",
		42,
		map[string]any{"a": map[string]any{"b": 1, "c": "x"}, "d": true},
	}
	values := []any{
		"v",
		3.5,
		false,
		map[string]any{"deep": map[string]any{"er": 1}},
		map[string]any{".value": "p", ".priority": 2},
	}
	paths := []string{"/", "/a", "/a/b", "/a/b/c/d", "/z"}

	for _, base := range bases {
		for _, value := range values {
			for _, p := range paths {
				a := MustFromValue(base)
				b := MustFromValue(value)
				got := a.UpdateChild(ParsePath(p), b).Child(ParsePath(p))
				assert.True(t, got.Equal(b), "base=%v path=%s value=%v got=%s", base, p, value, got)
			}
		}
	}
}

func TestUpdateChildSharesUntouchedSubtrees(t *testing.T) {
	root := MustFromValue(map[string]any{
		"left":  map[string]any{"x": 1},
		"right": map[string]any{"y": 2},
	})

	updated := root.UpdateChild(ParsePath("/left/x"), MustFromValue(5))

	assert.Same(t, root.ImmediateChild("right"), updated.ImmediateChild("right"))
	assert.Equal(t, float64(1), root.Child(ParsePath("/left/x")).Value(), "original is unchanged")
	assert.Equal(t, float64(5), updated.Child(ParsePath("/left/x")).Value())
}

func TestSettingEmptyRemovesChild(t *testing.T) {
	root := MustFromValue(map[string]any{"a": 1, "b": map[string]any{"c": 2}})

	removed := root.UpdateChild(ParsePath("/b/c"), Empty())
	assert.False(t, removed.HasChild("b"), "parent emptied by the removal disappears")
	assert.Equal(t, 1, removed.NumChildren())

	assert.True(t, removed.UpdateChild(ParsePath("/a"), Empty()).IsEmpty())
}

func TestLeafBecomesChildrenNode(t *testing.T) {
	leaf := MustFromValue(map[string]any{".value": 7, ".priority": "p"})

	n := leaf.UpdateImmediateChild("k", MustFromValue("v"))

	assert.False(t, n.IsLeaf())
	assert.Equal(t, "v", n.ImmediateChild("k").Value())
	assert.Equal(t, "p", n.Priority().Value(), "priority survives the conversion")
}

func TestPriority(t *testing.T) {
	n := MustFromValue(map[string]any{"a": 1})

	withPriority := n.UpdateChild(ParsePath("/.priority"), MustFromValue(10))
	assert.Equal(t, float64(10), withPriority.Priority().Value())
	assert.True(t, n.Priority().IsEmpty(), "receiver unchanged")

	assert.True(t, Empty().UpdatePriority(MustFromValue(1)).IsEmpty(), "null cannot carry a priority")
	assert.False(t, n.Equal(withPriority), "priority takes part in equality")
	assert.Equal(t, map[string]any{"a": float64(1), ".priority": float64(10)}, withPriority.ExportVal())
	assert.Equal(t, map[string]any{"a": float64(1)}, withPriority.Val())
}

func TestFromValue(t *testing.T) {
	t.Run("typed maps and slices", func(t *testing.T) {
		n, err := FromValue(map[string]int{"b": 2, "a": 1})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": float64(1), "b": float64(2)}, n.Val())

		arr, err := FromValue([]string{"x", "y"})
		require.NoError(t, err)
		assert.Equal(t, "y", arr.ImmediateChild("1").Value())
	})

	t.Run("nulls are dropped", func(t *testing.T) {
		n, err := FromValue(map[string]any{"a": nil, "b": map[string]any{"c": nil}})
		require.NoError(t, err)
		assert.True(t, n.IsEmpty())
	})

	errCases := []struct {
		name  string
		input any
	}{
		{"invalid key", map[string]any{"a.b": 1}},
		{"nested invalid key", map[string]any{"a": map[string]any{"$x": 1}}},
		{"object priority", map[string]any{"a": 1, ".priority": map[string]any{"x": 1}}},
		{"boolean priority", map[string]any{"a": 1, ".priority": true}},
		{"value with children", map[string]any{".value": 1, "a": 2}},
		{"unsupported type", struct{}{}},
		{"int keyed map", map[int]string{1: "a"}},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromValue(tc.input)
			assert.Error(t, err)
		})
	}
}

func TestCompareNames(t *testing.T) {
	ordered := []string{MinName, "-5", "0", "1", "2", "10", "100", "01", "a", "b", "ba", MaxName}
	for i := 0; i < len(ordered); i++ {
		for j := 0; j < len(ordered); j++ {
			want := 0
			switch {
			case i < j:
				want = -1
			case i > j:
				want = 1
			}
			assert.Equal(t, want, CompareNames(ordered[i], ordered[j]), "%q vs %q", ordered[i], ordered[j])
		}
	}
}

func TestCompareNamesOutOfRangeIntegersAreStrings(t *testing.T) {
	// 2^31 does not fit in 32 bits, so it sorts with the strings.
	assert.Equal(t, 1, CompareNames("2147483648", "5"))
	assert.Equal(t, -1, CompareNames("2147483648", "a"))
}

func TestCompareValues(t *testing.T) {
	ordered := []*Node{
		Empty(),
		MustFromValue(false),
		MustFromValue(true),
		MustFromValue(-1),
		MustFromValue(2.5),
		MustFromValue("a"),
		MustFromValue("b"),
		MustFromValue(map[string]any{"x": 1}),
		Max(),
	}
	for i := 0; i+1 < len(ordered); i++ {
		assert.Equal(t, -1, Compare(ordered[i], ordered[i+1]), "%s < %s", ordered[i], ordered[i+1])
		assert.Equal(t, 1, Compare(ordered[i+1], ordered[i]))
	}
	assert.Equal(t, 0, Compare(MustFromValue(map[string]any{"a": 1}), MustFromValue(map[string]any{"b": 2})),
		"children nodes tie on value")
}

func TestPath(t *testing.T) {
	p := ParsePath("/a//b/c/")
	assert.Equal(t, "/a/b/c", p.String())
	assert.Equal(t, "a", p.Front())
	assert.Equal(t, "c", p.Back())
	assert.Equal(t, "/b/c", p.PopFront().String())
	assert.Equal(t, "/a/b", p.Parent().String())
	assert.Equal(t, "/a/b/c/d/e", p.Child("d/e").String())
	assert.Equal(t, "/", Root().String())

	assert.True(t, ParsePath("/a").Contains(p))
	assert.True(t, p.Contains(p))
	assert.False(t, p.Contains(ParsePath("/a")))
	assert.False(t, ParsePath("/a/bc").Contains(ParsePath("/a/b")))
	assert.Equal(t, "/c", Relative(ParsePath("/a/b"), p).String())
	assert.Panics(t, func() { Relative(ParsePath("/x"), p) })

	parent := p.Parent()
	_ = parent.Child("z")
	assert.Equal(t, "/a/b/c", p.String(), "deriving from a parent never clobbers the original")
}

func TestValidatePathString(t *testing.T) {
	assert.NoError(t, ValidatePathString("/users/alice", false))
	assert.NoError(t, ValidatePathString("/users/.priority", true))
	assert.Error(t, ValidatePathString("/users/.priority", false))
	assert.Error(t, ValidatePathString("/users/a#b", false))
	assert.Error(t, ValidatePathString("/users/[0]", false))
}
