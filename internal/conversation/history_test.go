package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/ai-gateway/internal/types"
)

func TestMergeDeduplicatesByID(t *testing.T) {
	log := []types.Message{
		{ID: "a", Role: types.RoleUser, Content: "hi", Timestamp: 1000},
	}
	external := []types.Message{
		{ID: "a", Role: types.RoleUser, Content: "hi", Timestamp: 1000},
		{ID: "b", Role: types.RoleAssistant, Content: "hello", Timestamp: 2000},
	}

	merged := mergeHistory(log, external)

	require.Len(t, merged, 2)
	assert.Equal(t, "a", merged[0].ID)
	assert.Equal(t, "b", merged[1].ID)
}

func TestMergeDeduplicatesByRoleContentTimestamp(t *testing.T) {
	log := []types.Message{
		{ID: "a", Role: types.RoleUser, Content: "hi", Timestamp: 1000},
	}
	// Same role+content within 1s but a different id: still a duplicate.
	external := []types.Message{
		{ID: "x", Role: types.RoleUser, Content: "hi", Timestamp: 1800},
		{ID: "y", Role: types.RoleUser, Content: "hi", Timestamp: 2500},
	}

	merged := mergeHistory(log, external)

	require.Len(t, merged, 2, "entry within 1s is dropped, the later one kept")
	assert.Equal(t, "a", merged[0].ID)
	assert.Equal(t, "y", merged[1].ID)
}

func TestMergeSortsByTimestamp(t *testing.T) {
	merged := mergeHistory(
		[]types.Message{{ID: "late", Timestamp: 5000, Role: types.RoleUser, Content: "c"}},
		[]types.Message{{ID: "early", Timestamp: 1000, Role: types.RoleAssistant, Content: "d"}},
	)

	require.Len(t, merged, 2)
	assert.Equal(t, "early", merged[0].ID)
	for i := 1; i < len(merged); i++ {
		assert.LessOrEqual(t, merged[i-1].Timestamp, merged[i].Timestamp)
	}
}

func TestTrimDropsPlainMessagesFirst(t *testing.T) {
	messages := []types.Message{
		{ID: "u1", Role: types.RoleUser, Content: "old question", Timestamp: 1},
		{ID: "a1", Role: types.RoleAssistant, Timestamp: 2, ToolCalls: []types.ToolCall{{ID: "c1", Name: "get_gas_prices", Parameters: map[string]any{}}}},
		{ID: "t1", Role: types.RoleTool, Content: "{}", Timestamp: 3, ToolName: "get_gas_prices"},
		{ID: "a2", Role: types.RoleAssistant, Content: "answer", Timestamp: 4},
		{ID: "u2", Role: types.RoleUser, Content: "new question", Timestamp: 5},
	}

	trimmed := trimHistory(messages, 3)

	require.Len(t, trimmed, 3)
	// Tool-call assistant and tool message survive; the oldest plain
	// messages go first.
	ids := []string{trimmed[0].ID, trimmed[1].ID, trimmed[2].ID}
	assert.Equal(t, []string{"a1", "t1", "u2"}, ids)
}

func TestTrimDropsOldestWhenOnlyToolContextRemains(t *testing.T) {
	messages := []types.Message{
		{ID: "t1", Role: types.RoleTool, Timestamp: 1},
		{ID: "t2", Role: types.RoleTool, Timestamp: 2},
		{ID: "t3", Role: types.RoleTool, Timestamp: 3},
	}

	trimmed := trimHistory(messages, 2)

	require.Len(t, trimmed, 2)
	assert.Equal(t, "t2", trimmed[0].ID)
	assert.Equal(t, "t3", trimmed[1].ID)
}

func TestTrimNoopUnderLimit(t *testing.T) {
	messages := []types.Message{{ID: "a", Timestamp: 1}, {ID: "b", Timestamp: 2}}
	assert.Len(t, trimHistory(messages, 10), 2)
}
