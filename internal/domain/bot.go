package domain

import "time"

// BotStatus is the lifecycle state of a strategy runtime.
type BotStatus string

const (
	BotStarting BotStatus = "starting"
	BotRunning  BotStatus = "running"
	BotPaused   BotStatus = "paused"
	BotStopping BotStatus = "stopping"
	BotStopped  BotStatus = "stopped"
	BotCrashed  BotStatus = "crashed"
)

// BotInstance is the supervisor's in-memory view of one running bot.
type BotInstance struct {
	BotID          string
	UserID         string
	Mode           string
	Status         BotStatus
	StartedAt      time.Time
	LastTickAt     time.Time
	LoopDurationMs int64
	RestartCount   int
	TradesExecuted int
	MaxTrades      int
	Errors         int
	StopReason     string
}

// HealthMetric is emitted once per tick and rolled up by the supervisor.
type HealthMetric struct {
	BotID          string    `json:"botId"`
	LastTickAt     time.Time `json:"lastTickAt"`
	LoopDurationMs int64     `json:"loopDurationMs"`
	RestartCount   int       `json:"restartCount"`
	Status         BotStatus `json:"status"`
}

// CrashReport captures an uncaught bot failure for the crash artifact.
type CrashReport struct {
	BotID       string    `json:"botId"`
	UserID      string    `json:"userId"`
	Mode        string    `json:"mode"`
	Event       string    `json:"event"`
	Message     string    `json:"message"`
	Stack       string    `json:"stack"`
	ModuleTrail []string  `json:"moduleTrail,omitempty"`
	RestartCount int      `json:"restartCount"`
	OccurredAt  time.Time `json:"occurredAt"`
}
