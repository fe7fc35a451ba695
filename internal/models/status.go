package models

import "time"

// EngineStatus - операторский снимок состояния движка
type EngineStatus struct {
	Running      bool      `json:"running"`
	Paused       bool      `json:"paused"`
	DryRun       bool      `json:"dry_run"`
	Cycle        int64     `json:"cycle"`
	ActiveTrades int       `json:"active_trades"`
	Venues       []string  `json:"venues"`
	StartedAt    time.Time `json:"started_at"`
	LastCycleAt  time.Time `json:"last_cycle_at,omitempty"`
}
