package tgui

import tele "gopkg.in/telebot.v4"

// ConfirmInline builds a one-row yes/no keyboard.
func ConfirmInline(yes, no tele.Btn) *Inline {
	return NewInline().Row(yes, no)
}
