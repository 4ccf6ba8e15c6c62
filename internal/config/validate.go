package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate reports every problem it finds, each prefixed with its field path.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token: required (or set TELEGRAM_BOT_TOKEN)")
	}
	for i, id := range c.Telegram.OwnerUserIDs {
		if id <= 0 {
			add("telegram.owner_user_ids[%d]: must be a positive user id", i)
		}
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	if c.Logging.Telegram.Enabled && c.Telegram.LogChat == 0 {
		add("telegram.log_chat: required when logging.telegram.enabled is true")
	}
	if c.Logging.Telegram.RatePerSec < 0 {
		add("logging.telegram.rate_per_sec: must be >= 0")
	}

	if !slices.Contains([]string{"file", "sqlite", "memory"}, c.Storage.Driver) {
		add("storage.driver: unknown driver %q (want file, sqlite or memory)", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	d := c.Dispatch
	if d.RateLimitPerWindow <= 0 {
		add("dispatch.rate_limit_per_window: must be > 0")
	}
	if d.DelayMinMs < 0 || d.DelayMaxMs < 0 {
		add("dispatch.delay_min_ms/delay_max_ms: must be >= 0")
	}
	if d.DelayMinMs > d.DelayMaxMs {
		add("dispatch.delay_min_ms: %d exceeds delay_max_ms %d", d.DelayMinMs, d.DelayMaxMs)
	}

	if c.Sender.RetryMax != nil && *c.Sender.RetryMax < 0 {
		add("sender.retry_max: must be >= 0")
	}
	base, err := ParseDurationField("sender.retry_base", c.Sender.RetryBase)
	if err != nil {
		errs = append(errs, err)
	}
	maxDelay, err := ParseDurationField("sender.retry_max_delay", c.Sender.RetryMaxDelay)
	if err != nil {
		errs = append(errs, err)
	}
	if base > 0 && maxDelay > 0 && base > maxDelay {
		add("sender.retry_base: %s exceeds retry_max_delay %s", base, maxDelay)
	}

	if spec := strings.TrimSpace(c.Session.BackupSchedule); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			add("session.backup_schedule: %v", err)
		}
	}
	if tz := strings.TrimSpace(c.Session.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("session.timezone: %v", err)
		}
	}

	return errors.Join(errs...)
}
