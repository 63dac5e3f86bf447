package session

import "time"

// Sender identifies who authored a transcript entry
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message represents a single transcript entry
type Message struct {
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Temporary bool      `json:"isTemporary,omitempty"` // Placeholder shown only while a throttle wait is pending
	Timestamp time.Time `json:"timestamp"`
}

// UserMessage returns a message authored by the user
func UserMessage(text string) Message {
	return Message{Text: text, Sender: SenderUser, Timestamp: time.Now()}
}

// BotMessage returns a message authored by the assistant
func BotMessage(text string) Message {
	return Message{Text: text, Sender: SenderBot, Timestamp: time.Now()}
}

// TemporaryMessage returns an assistant placeholder that is never persisted
// or sent to the backend.
func TemporaryMessage(text string) Message {
	return Message{Text: text, Sender: SenderBot, Temporary: true, Timestamp: time.Now()}
}

// Snapshot is a point-in-time copy of the conversation state
type Snapshot struct {
	Messages    []Message
	Input       string
	Busy        bool
	LastRequest time.Time
}

// TemporaryCount returns the number of placeholder messages in the snapshot
func (s Snapshot) TemporaryCount() int {
	n := 0
	for _, msg := range s.Messages {
		if msg.Temporary {
			n++
		}
	}
	return n
}
