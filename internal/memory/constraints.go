package memory

import "fmt"

// Default merge time windows in seconds.
const (
	// DefaultSameChatWindow allows merging events from the same
	// conversation up to 30 minutes apart.
	DefaultSameChatWindow int64 = 1800

	// DefaultDiffChatWindow allows merging events from different
	// conversations up to 7 days apart.
	DefaultDiffChatWindow int64 = 604800
)

// ConstraintChecker validates the time-window constraint before a merge
// is allowed. The applicable window depends on whether both records come
// from the same chat.
//
// Records carry no identity/subject marker, so the check is time-window
// only.
type ConstraintChecker struct {
	SameChatWindow int64 // seconds
	DiffChatWindow int64 // seconds
}

// NewConstraintChecker builds a checker, substituting defaults for
// non-positive windows.
func NewConstraintChecker(sameChat, diffChat int64) ConstraintChecker {
	if sameChat <= 0 {
		sameChat = DefaultSameChatWindow
	}
	if diffChat <= 0 {
		diffChat = DefaultDiffChatWindow
	}
	return ConstraintChecker{SameChatWindow: sameChat, DiffChatWindow: diffChat}
}

// Verdict is the structured result of a constraint check. A negative
// verdict is a routing decision, not an error.
type Verdict struct {
	CanMerge bool
	Reason   string
	SameChat bool
	TimeDiff int64 // seconds, absolute
	Window   int64 // seconds, the window that applied
}

// Check evaluates the merge constraints for a pair of records. It never
// fails; callers inspect the verdict.
func (c ConstraintChecker) Check(a, b Record) Verdict {
	diff := a.TS - b.TS
	if diff < 0 {
		diff = -diff
	}

	sameChat := a.ChatID == b.ChatID
	window := c.DiffChatWindow
	if sameChat {
		window = c.SameChatWindow
	}

	v := Verdict{
		SameChat: sameChat,
		TimeDiff: diff,
		Window:   window,
	}
	if diff <= window {
		v.CanMerge = true
		v.Reason = "within time window"
		return v
	}
	v.Reason = fmt.Sprintf("time diff %ds exceeds %ds window", diff, window)
	return v
}
