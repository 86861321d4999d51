package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *ToolRegistry {
	r := NewToolRegistry()
	r.Register(&ToolMetadata{Name: "ultrathink_process", Description: "Answer a prompt", Category: CategoryProcess, Keywords: []string{"refine"}})
	r.Register(&ToolMetadata{Name: "ultrathink_stats", Description: "Aggregate statistics", Category: CategoryStats})
	r.Register(&ToolMetadata{Name: "tool_search", Description: "Search tools", Category: CategorySearch})
	return r
}

func TestToolRegistry_Register(t *testing.T) {
	r := NewToolRegistry()
	r.Register(nil)
	r.Register(&ToolMetadata{})
	assert.Equal(t, 0, r.Count())

	r.Register(&ToolMetadata{Name: "a"})
	r.Register(&ToolMetadata{Name: "a", Description: "replaced"})
	require.Equal(t, 1, r.Count())
	md, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "replaced", md.Description)
}

func TestToolRegistry_List(t *testing.T) {
	r := newTestRegistry()

	all := r.List("")
	require.Len(t, all, 3)
	assert.Equal(t, "tool_search", all[0].Name)

	stats := r.List(CategoryStats)
	require.Len(t, stats, 1)
	assert.Equal(t, "ultrathink_stats", stats[0].Name)
}

func TestToolRegistry_Search(t *testing.T) {
	r := newTestRegistry()

	tests := []struct {
		name     string
		query    string
		category ToolCategory
		first    string
		score    int
		count    int
	}{
		{"exact name", "ultrathink_stats", "", "ultrathink_stats", 3, 1},
		{"name substring", "ultrathink", "", "ultrathink_process", 2, 2},
		{"description", "statistics", "", "ultrathink_stats", 1, 1},
		{"keyword", "refine", "", "ultrathink_process", 1, 1},
		{"regex", "^tool_.*", "", "tool_search", 2, 1},
		{"category filter", "ultrathink", CategoryStats, "ultrathink_stats", 2, 1},
		{"no match", "nothing-here", "", "", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := r.Search(tt.query, tt.category)
			require.Len(t, results, tt.count)
			if tt.count == 0 {
				return
			}
			assert.Equal(t, tt.first, results[0].Tool.Name)
			assert.Equal(t, tt.score, results[0].Score)
		})
	}

	assert.Nil(t, r.Search("", ""))
}
