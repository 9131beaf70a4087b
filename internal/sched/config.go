package sched

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"fortio.org/safecast"
	yaml "github.com/goccy/go-yaml"
)

// Wake policies for event wait lists.
const (
	WakePriority = "priority" // highest priority first, FIFO among equals
	WakeFIFO     = "fifo"
)

// Config mirrors config.yml
type Config struct {
	TickMS             int    `yaml:"tick_ms"`              // 1 (by default)
	MaxPriorities      int    `yaml:"max_priorities"`       // 7 (by default)
	MinimalStackSize   int    `yaml:"minimal_stack_size"`   // 60 words (by default)
	TotalHeapSize      int    `yaml:"total_heap_size"`      // 2 MiB (by default)
	MaxTaskNameLen     int    `yaml:"max_task_name_len"`    // 15 (by default)
	WakePolicy         string `yaml:"wake_policy"`          // "priority" (by default)
	IncludeTaskSuspend bool   `yaml:"include_task_suspend"` // true (by default)
	EventBuffer        int    `yaml:"event_buffer"`         // 256 (by default)
}

// DefaultConfig is used whenever the config file is absent.
func DefaultConfig() Config {
	return Config{
		TickMS:             1,
		MaxPriorities:      7,
		MinimalStackSize:   60,
		TotalHeapSize:      2048 * 1024,
		MaxTaskNameLen:     15,
		WakePolicy:         WakePriority,
		IncludeTaskSuspend: true,
		EventBuffer:        256,
	}
}

// Load reads YAML and overrides defaults; empty path or a missing file = defaults only.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg.sanitize(), nil
}

// sanity clamps
func (c Config) sanitize() Config {
	d := DefaultConfig()
	if c.TickMS <= 0 {
		c.TickMS = d.TickMS
	}
	if c.MaxPriorities <= 0 {
		c.MaxPriorities = d.MaxPriorities
	}
	if _, err := safecast.Conv[uint16](c.MinimalStackSize); err != nil || c.MinimalStackSize == 0 {
		c.MinimalStackSize = d.MinimalStackSize
	}
	if c.TotalHeapSize <= 0 {
		c.TotalHeapSize = d.TotalHeapSize
	}
	if c.MaxTaskNameLen <= 0 {
		c.MaxTaskNameLen = d.MaxTaskNameLen
	}
	c.WakePolicy = strings.ToLower(strings.TrimSpace(c.WakePolicy))
	if c.WakePolicy != WakeFIFO {
		c.WakePolicy = WakePriority
	}
	if c.EventBuffer < 0 {
		c.EventBuffer = 0
	}
	return c
}

// Marshal renders the config back to YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
