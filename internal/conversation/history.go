package conversation

import (
	"sort"

	"github.com/adred-codev/ai-gateway/internal/types"
)

// mergeHistory combines the session log with externally supplied history,
// de-duplicating by id or by (role, content, timestamp within 1s), then
// sorting by timestamp ascending. Sorting is stable so equal timestamps
// keep their arrival order.
func mergeHistory(sessionLog, external []types.Message) []types.Message {
	merged := make([]types.Message, 0, len(sessionLog)+len(external))
	seenIDs := make(map[string]bool, len(sessionLog))

	add := func(msg types.Message) {
		if msg.ID != "" && seenIDs[msg.ID] {
			return
		}
		for _, existing := range merged {
			if existing.Role == msg.Role &&
				existing.Content == msg.Content &&
				absInt64(existing.Timestamp-msg.Timestamp) <= 1000 {
				return
			}
		}
		if msg.ID != "" {
			seenIDs[msg.ID] = true
		}
		merged = append(merged, msg)
	}

	for _, msg := range sessionLog {
		add(msg)
	}
	for _, msg := range external {
		add(msg)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// trimHistory bounds the list to maxLen, dropping the oldest entries that
// carry no tool context first. Only when every remaining message carries
// tool context does it drop oldest overall.
func trimHistory(messages []types.Message, maxLen int) []types.Message {
	if maxLen <= 0 || len(messages) <= maxLen {
		return messages
	}

	out := make([]types.Message, len(messages))
	copy(out, messages)

	for len(out) > maxLen {
		dropped := false
		for i := range out {
			if !out[i].HasToolContext() {
				out = append(out[:i], out[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			out = out[1:]
		}
	}
	return out
}

func absInt64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
