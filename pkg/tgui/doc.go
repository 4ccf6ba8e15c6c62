// Package tgui holds small Telegram UI helpers: inline keyboards, callback
// data in "scope:action:payload" form, HTML-safe text and a message builder
// that defaults to HTML with link previews off.
package tgui
