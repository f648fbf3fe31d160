// Package telegram binds the bot to the Telegram transport: inbound
// update models and the outbound bot API client.
package telegram

// Update is one inbound event from the bot API webhook. Only the fields
// this bot routes on are modeled.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an inbound chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// User identifies the message sender.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat identifies the delivery channel for replies.
type Chat struct {
	ID int64 `json:"id"`
}
