package session

import (
	"fmt"
	"time"
)

// Greeting builds the time-of-day greeting for name: morning before 12:00,
// afternoon before 17:00, evening otherwise, each with the clock time.
func Greeting(name string, now time.Time) string {
	clock := now.Format("15:04")
	switch {
	case now.Hour() < 12:
		return fmt.Sprintf("Good morning %s! It's %s. How can I help you today?", name, clock)
	case now.Hour() < 17:
		return fmt.Sprintf("Good afternoon %s! It's %s. What can I do for you?", name, clock)
	default:
		return fmt.Sprintf("Good evening %s! It's %s. How may I assist you?", name, clock)
	}
}

// SystemPrompt builds the system instruction seeding a session's history.
func SystemPrompt(name string) string {
	return fmt.Sprintf("You are a helpful AI assistant talking to %s. Be friendly and conversational.", name)
}
