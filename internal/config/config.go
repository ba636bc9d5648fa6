package config

import "time"

// Config holds all application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"   validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// SchedulerConfig contains the scheduler's tuning knobs.
type SchedulerConfig struct {
	// WorkerCount is the number of concurrent worker loops.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`

	// BlockingWorkers bounds the helper pool for blocking work.
	BlockingWorkers int `mapstructure:"blocking_workers" validate:"required,gt=0"`

	// QueueCapacity bounds the pending queue; zero means unbounded.
	QueueCapacity int `mapstructure:"queue_capacity" validate:"gte=0"`

	// HistoryCapacity bounds the completed-result history.
	HistoryCapacity int `mapstructure:"history_capacity" validate:"required,gt=0"`

	// PollInterval is the worker-loop queue poll timeout.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`

	// WaitPollInterval is the result-poll interval used by waits.
	WaitPollInterval time.Duration `mapstructure:"wait_poll_interval" validate:"required,gt=0"`

	// Demo, when set, submits a small demonstration batch at startup
	// and logs the job report and queue statistics.
	Demo bool `mapstructure:"demo"`
}
