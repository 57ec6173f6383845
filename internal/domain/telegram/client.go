package telegram

import "context"

// Client sends plain-text operator notifications to a Telegram chat.
// Keeps the application independent of the bot library.
type Client interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}
