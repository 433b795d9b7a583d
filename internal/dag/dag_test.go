package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.NotNil(t, g.nodes)
	assert.Empty(t, g.nodes)
}

func TestAddNode(t *testing.T) {
	g := New()

	g.AddNode("age")
	assert.Len(t, g.nodes, 1)
	n, ok := g.nodes["age"]
	require.True(t, ok)
	assert.Equal(t, "age", n.id)
	assert.NotNil(t, n.deps)
	assert.NotNil(t, n.dependents)

	g.AddNode("age") // idempotent
	assert.Len(t, g.nodes, 1)

	g.AddNode("CC_length")
	assert.Len(t, g.nodes, 2)
	assert.True(t, g.Has("CC_length"))
	assert.False(t, g.Has("IP"))
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")

		require.NoError(t, g.AddEdge("a", "b")) // b depends on a

		deps, err := g.Dependencies("b")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, deps)

		dependents, err := g.Dependents("a")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, dependents)
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")

		assert.ErrorContains(t, g.AddEdge("dne", "a"), "source node not found")
		assert.ErrorContains(t, g.AddEdge("a", "dne"), "destination node not found")
		assert.ErrorContains(t, g.AddEdge("a", "a"), "self-referential edge")

		_, err := g.Dependencies("dne")
		assert.ErrorContains(t, err, "node not found")
		_, err = g.Dependents("dne")
		assert.ErrorContains(t, err, "node not found")
	})
}

func TestDetectCycles(t *testing.T) {
	t.Run("empty graph has no cycles", func(t *testing.T) {
		assert.NoError(t, New().DetectCycles())
	})

	t.Run("chain has no cycles", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		g.AddNode("c")
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "c"))
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("loop is reported", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		g.AddNode("c")
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "c"))
		require.NoError(t, g.AddEdge("c", "a"))
		assert.ErrorContains(t, g.DetectCycles(), "cycle detected")
	})
}

func TestTopologicalOrder(t *testing.T) {
	t.Run("no edges keeps insertion order", func(t *testing.T) {
		g := New()
		for _, id := range []string{"z", "a", "m"} {
			g.AddNode(id)
		}
		order, err := g.TopologicalOrder()
		require.NoError(t, err)
		assert.Equal(t, []string{"z", "a", "m"}, order)
	})

	t.Run("dependencies come first", func(t *testing.T) {
		// --- Arrange ---
		// age = uniform(0, CC_length), CC_length = normal(avg, std)
		g := New()
		g.AddNode("age")
		g.AddNode("CC_length")
		g.AddNode("R")
		require.NoError(t, g.AddEdge("CC_length", "age"))

		// --- Act ---
		order, err := g.TopologicalOrder()

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, []string{"CC_length", "age", "R"}, order)
	})
}
