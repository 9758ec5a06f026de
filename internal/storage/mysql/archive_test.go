package mysql

import (
	"context"
	"strings"
	"testing"

	"OpenIntent-Chain/internal/workflow"
)

func sampleExecution(id string, status workflow.ExecutionStatus) *workflow.Execution {
	return &workflow.Execution{
		ID:       id,
		PlanID:   "plan-" + id,
		IntentID: "intent-" + id,
		ChainID:  421614,
		Status:   status,
		Steps: []*workflow.Step{
			{ID: "step-1", Skill: "quote_bridge", Status: workflow.StepStatusCompleted},
			{ID: "step-2", Skill: "bridge", Status: workflow.StepStatusCompleted},
		},
		CreatedAt:  1000,
		StartedAt:  1001,
		FinishedAt: 1500,
		DurationMS: 499,
	}
}

func TestFileArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	archive, err := NewFileArchive(dir)
	if err != nil {
		t.Fatalf("创建文件归档失败: %v", err)
	}

	ctx := context.Background()
	if err := archive.Archive(ctx, sampleExecution("a", workflow.ExecutionStatusCompleted)); err != nil {
		t.Fatalf("归档失败: %v", err)
	}
	if err := archive.Archive(ctx, sampleExecution("b", workflow.ExecutionStatusFailed)); err != nil {
		t.Fatalf("归档失败: %v", err)
	}

	records, err := archive.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("查询归档失败: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("期望 2 条记录, 实际 %d", len(records))
	}
	if records[0].ExecutionID != "b" {
		t.Fatalf("期望最新记录在前, 实际 %s", records[0].ExecutionID)
	}
	if records[0].Status != string(workflow.ExecutionStatusFailed) {
		t.Fatalf("状态不符: %s", records[0].Status)
	}
	if records[0].StepCount != 2 {
		t.Fatalf("步骤数不符: %d", records[0].StepCount)
	}
	if !strings.Contains(records[0].StepsJSON, "quote_bridge") {
		t.Fatalf("步骤明细缺失: %s", records[0].StepsJSON)
	}
}

func TestFileArchiveReplayOnRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileArchive(dir)
	if err != nil {
		t.Fatalf("创建文件归档失败: %v", err)
	}
	if err := first.Archive(ctx, sampleExecution("restart", workflow.ExecutionStatusCompleted)); err != nil {
		t.Fatalf("归档失败: %v", err)
	}

	second, err := NewFileArchive(dir)
	if err != nil {
		t.Fatalf("重新打开归档失败: %v", err)
	}
	records, err := second.ListRecent(ctx, 5)
	if err != nil {
		t.Fatalf("查询归档失败: %v", err)
	}
	if len(records) != 1 || records[0].ExecutionID != "restart" {
		t.Fatalf("重启后未回放记录: %+v", records)
	}
}

func TestFileArchiveListLimit(t *testing.T) {
	dir := t.TempDir()
	archive, err := NewFileArchive(dir)
	if err != nil {
		t.Fatalf("创建文件归档失败: %v", err)
	}
	ctx := context.Background()
	for _, id := range []string{"x", "y", "z"} {
		if err := archive.Archive(ctx, sampleExecution(id, workflow.ExecutionStatusCompleted)); err != nil {
			t.Fatalf("归档失败: %v", err)
		}
	}
	records, err := archive.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("查询归档失败: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("limit 未生效: %d", len(records))
	}
}
