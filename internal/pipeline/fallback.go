package pipeline

import "math/rand/v2"

// defaultFallbackReplies are pre-approved replies used whenever moderation
// blocks a turn or a downstream stage fails. They never derive from the
// unmoderated content.
var defaultFallbackReplies = []string{
	"Hmm, let's talk about something else! What's your favorite animal?",
	"That's a tricky one for me. Want to hear a fun fact instead?",
	"I'd rather chat about something fun. What made you smile today?",
	"Let's play a game instead! Can you think of something that rhymes with bear?",
}

// FallbackPicker hands out a pre-approved reply per turn.
type FallbackPicker struct {
	replies []string
}

// NewFallbackPicker builds a picker; with no replies configured it uses the
// built-in set.
func NewFallbackPicker(replies []string) *FallbackPicker {
	if len(replies) == 0 {
		replies = defaultFallbackReplies
	}
	return &FallbackPicker{replies: replies}
}

// Pick returns one reply from the fixed set.
func (f *FallbackPicker) Pick() string {
	return f.replies[rand.IntN(len(f.replies))]
}

// Contains reports whether text is one of the pre-approved replies.
func (f *FallbackPicker) Contains(text string) bool {
	for _, r := range f.replies {
		if r == text {
			return true
		}
	}
	return false
}
