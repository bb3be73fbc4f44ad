// Package bot is the conversational admin surface: a private-chat
// wizard that walks an admin through scheduling a publication (content,
// target chat, date, recurrence, pin, notification, auto-delete), plus
// listing and cancelling existing publications and tracking the trusted
// chats the bot has been added to.
package bot
