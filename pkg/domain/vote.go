package domain

type VoteAction int

const (
	VoteInsert VoteAction = iota + 1
	VoteFlip
	VoteRemove
)

func (a VoteAction) String() string {
	switch a {
	case VoteInsert:
		return "insert"
	case VoteFlip:
		return "flip"
	case VoteRemove:
		return "remove"
	}
	return "unknown"
}

// NextVote decides what a new vote does given the caller's existing one.
// Repeating the same direction toggles the vote off.
func NextVote(existing *bool, up bool) VoteAction {
	if existing == nil {
		return VoteInsert
	}
	if *existing == up {
		return VoteRemove
	}
	return VoteFlip
}
