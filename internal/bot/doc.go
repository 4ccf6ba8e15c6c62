// Package bot is the conversational layer: inline menus, owner gating and a
// per-chat pending-input state machine that collects message bodies, group
// ids and settings values before handing them to dispatch and scheduler.
package bot
