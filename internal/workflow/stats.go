package workflow

import (
	"sync"
	"time"
)

// Stats 聚合了全部执行的运行统计，常用于仪表盘或健康检查。
type Stats struct {
	Started           int64            `json:"started"`
	Completed         int64            `json:"completed"`
	Failed            int64            `json:"failed"`
	Cancelled         int64            `json:"cancelled"`
	AverageDurationMS float64          `json:"average_duration_ms"`
	SkillInvocations  map[string]int64 `json:"skill_invocations,omitempty"`
}

// StatsTracker 以增量方式维护运行统计，可被多个执行并发更新。
// 平均时长只统计成功完成的执行。
type StatsTracker struct {
	mu          sync.Mutex
	started     int64
	completed   int64
	failed      int64
	cancelled   int64
	durations   int64
	averageMS   float64
	invocations map[string]int64
}

// NewStatsTracker 创建统计器。
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{invocations: make(map[string]int64)}
}

// RecordStarted 记录一次新建的执行。
func (t *StatsTracker) RecordStarted() {
	t.mu.Lock()
	t.started++
	t.mu.Unlock()
}

// RecordDispatch 记录一次步骤派发，无论成败每次派发计数一次。
func (t *StatsTracker) RecordDispatch(skillName string) {
	t.mu.Lock()
	t.invocations[skillName]++
	t.mu.Unlock()
}

// RecordTerminal 记录执行到达终态。完成的执行参与平均时长的
// 增量更新：average += (duration - average) / count。
func (t *StatsTracker) RecordTerminal(status ExecutionStatus, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch status {
	case ExecutionStatusCompleted:
		t.completed++
		t.durations++
		t.averageMS += (float64(duration.Milliseconds()) - t.averageMS) / float64(t.durations)
	case ExecutionStatusFailed:
		t.failed++
	case ExecutionStatusCancelled:
		t.cancelled++
	}
}

// Snapshot 返回当前统计的拷贝。
func (t *StatsTracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	invocations := make(map[string]int64, len(t.invocations))
	for skillName, count := range t.invocations {
		invocations[skillName] = count
	}
	return Stats{
		Started:           t.started,
		Completed:         t.completed,
		Failed:            t.failed,
		Cancelled:         t.cancelled,
		AverageDurationMS: t.averageMS,
		SkillInvocations:  invocations,
	}
}
