package chat

import (
	"sync"
	"time"
)

// DefaultTypingQuiet is the keystroke quiet interval after which a stop
// signal is emitted.
const DefaultTypingQuiet = time.Second

// DefaultTypingDecay is how long an observed typing flag stays fresh without
// being refreshed. The server guarantees no timeout of its own, so observers
// decay the flag defensively.
const DefaultTypingDecay = 5 * time.Second

// typingSignaler debounces the local participant's typing signal: the first
// keystroke emits typing_start once, and a quiet interval with no further
// keystrokes emits typing_stop. The signal is ephemeral and never enters the
// conversation buffer.
type typingSignaler struct {
	chatID  string
	session Session
	quiet   time.Duration

	mu     *sync.Mutex // the owning conversation's lock
	active bool
	timer  *time.Timer
}

func newTypingSignaler(chatID string, session Session, quiet time.Duration, mu *sync.Mutex) *typingSignaler {
	if quiet <= 0 {
		quiet = DefaultTypingQuiet
	}
	return &typingSignaler{chatID: chatID, session: session, quiet: quiet, mu: mu}
}

// keystroke registers compose activity. Caller holds the conversation lock.
func (t *typingSignaler) keystroke() {
	if !t.active {
		t.active = true
		_ = t.session.Typing(t.chatID, true)
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.quiet, t.quietElapsed)
}

func (t *typingSignaler) quietElapsed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		t.active = false
		_ = t.session.Typing(t.chatID, false)
	}
}

// cancel clears the debounce timer without emitting anything. Used when the
// conversation closes; the leave takes the flag down server-side.
func (t *typingSignaler) cancel() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.active = false
}

// stop cancels the debounce timer and emits typing_stop if a signal was
// active. Caller holds the conversation lock.
func (t *typingSignaler) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.active {
		t.active = false
		_ = t.session.Typing(t.chatID, false)
	}
}
