package domain

import (
	"sort"
)

// BuildThread attaches replies to their top-level parents. The top slice keeps
// its order; replies are sorted oldest first. Replies whose parent is not in
// top are dropped, so nothing below one level is ever attached.
func BuildThread(top, replies []CommentRow) []CommentView {
	out := make([]CommentView, len(top))
	index := make(map[string]int, len(top))
	for i, r := range top {
		out[i] = r.View()
		index[r.ID] = i
	}
	sorted := make([]CommentRow, len(replies))
	copy(sorted, replies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	for _, r := range sorted {
		if r.ParentID == nil {
			continue
		}
		i, ok := index[*r.ParentID]
		if !ok {
			continue
		}
		out[i].Replies = append(out[i].Replies, r.View())
	}
	return out
}
