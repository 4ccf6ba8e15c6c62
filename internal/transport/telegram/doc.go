// Package telegram connects groupcast to the Telegram Bot API via telebot.
//
// Adapter implements transport.Adapter (long polling, send, edit, callback
// answers). Sender implements dispatch.Sender on top of any text sender,
// with bounded retries.
package telegram
