package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Quiz      QuizConfig      `json:"quiz"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// AdminUserIDs may use the bot's management commands.
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// Groups are the chats questions get posted to.
	Groups []GroupConfig `json:"groups"`
}

// GroupConfig names one target chat. Key is the stable identifier questions
// reference in their target list.
type GroupConfig struct {
	Key    string `json:"key"`
	Name   string `json:"name,omitempty"`
	ChatID int64  `json:"chat_id"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	// Timezone every slot time and the report time is interpreted in.
	Timezone string `json:"timezone"`
	// ReportTime is "HH:MM"; the Monday run also resets the weekly window.
	ReportTime string `json:"report_time"`
	Workers    int    `json:"workers,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type QuizConfig struct {
	// LeaderboardSize caps ranked output. 0 means the default of 5.
	LeaderboardSize int `json:"leaderboard_size,omitempty"`
	// DefaultSlots seed the slot table on first start only. Runtime slot
	// commands are the source of truth afterwards.
	DefaultSlots []SlotConfig `json:"default_slots,omitempty"`
}

type SlotConfig struct {
	Name string `json:"name"`
	Time string `json:"time"` // "HH:MM"
}

// Validate checks everything that can be checked without side effects.
// Used both at startup and as the hot-reload gate.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token: required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if len(c.Telegram.Groups) == 0 {
		return fmt.Errorf("telegram.groups: at least one target group required")
	}
	seen := map[string]bool{}
	for i, g := range c.Telegram.Groups {
		key := strings.TrimSpace(g.Key)
		if key == "" {
			return fmt.Errorf("telegram.groups[%d].key: required", i)
		}
		if key == "all" {
			return fmt.Errorf("telegram.groups[%d].key: %q is reserved", i, key)
		}
		if seen[key] {
			return fmt.Errorf("telegram.groups[%d].key: duplicate %q", i, key)
		}
		seen[key] = true
		if g.ChatID == 0 {
			return fmt.Errorf("telegram.groups[%d].chat_id: required", i)
		}
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if rt := strings.TrimSpace(c.Scheduler.ReportTime); rt != "" {
		if err := validHHMM(rt); err != nil {
			return fmt.Errorf("scheduler.report_time: %w", err)
		}
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers: must be >= 0")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if c.Quiz.LeaderboardSize < 0 {
		return fmt.Errorf("quiz.leaderboard_size: must be >= 0")
	}
	slotSeen := map[string]bool{}
	for i, s := range c.Quiz.DefaultSlots {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("quiz.default_slots[%d].name: required", i)
		}
		if slotSeen[name] {
			return fmt.Errorf("quiz.default_slots[%d].name: duplicate %q", i, name)
		}
		slotSeen[name] = true
		if err := validHHMM(s.Time); err != nil {
			return fmt.Errorf("quiz.default_slots[%d].time: %w", i, err)
		}
	}
	return nil
}

// GroupByKey resolves a group key to its chat config.
func (c *Config) GroupByKey(key string) (GroupConfig, bool) {
	for _, g := range c.Telegram.Groups {
		if g.Key == key {
			return g, true
		}
	}
	return GroupConfig{}, false
}

// IsAdmin reports whether the user may run management commands.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func validHHMM(v string) error {
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return fmt.Errorf("want HH:MM, got %q", v)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return fmt.Errorf("time %q out of range", v)
	}
	return nil
}
