package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Environment variables that override the config file.
const (
	EnvToken   = "TELEGRAM_BOT_TOKEN"
	EnvOwnerID = "OWNER_ID"
)

// ApplyEnv overrides the token and adds owners from the environment.
// OWNER_ID may hold several ids separated by commas.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		return nil
	}
	if tok := strings.TrimSpace(getenv(EnvToken)); tok != "" {
		c.Telegram.Token = tok
	}
	raw := strings.TrimSpace(getenv(EnvOwnerID))
	if raw == "" {
		return nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid user id %q", EnvOwnerID, part)
		}
		if !slices.Contains(c.Telegram.OwnerUserIDs, id) {
			c.Telegram.OwnerUserIDs = append(c.Telegram.OwnerUserIDs, id)
		}
	}
	return nil
}
