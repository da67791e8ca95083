package core

import "time"

// TaskExecutionRecord captures a completed task execution event.
type TaskExecutionRecord struct {
	TaskID        uint64
	SchedulerName string
	SchedulerType SchedulerType
	StartedAt     time.Time
	FinishedAt    time.Time
	Duration      time.Duration
	Panicked      bool
}

// SchedulerStats represents runtime observability state for a task scheduler.
type SchedulerStats struct {
	Name        string
	Type        SchedulerType
	Capacity    int64
	Unprocessed int64
	Queued      int
	Rejected    int64
	Closed      bool
	LastTaskAt  time.Time
}

// PoolStats represents runtime observability state for a thread pool.
type PoolStats struct {
	ID      string
	Workers int
	Queued  int
	Active  int
	Running bool
}
