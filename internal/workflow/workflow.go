// Package workflow 实现意图编排的核心：编译器把意图翻译为带依赖标注的
// 执行计划，调度器按层级同步批次驱动计划直至终态，事件总线、统计器与
// 执行注册表负责观测与控制。
package workflow

import (
	"time"

	xerrors "OpenIntent-Chain/internal/errors"
)

var (
	// ErrPlanNotFound 表示指定的执行计划不存在。
	ErrPlanNotFound = xerrors.New(CodeWorkflowNotFound, "workflow plan not found")
	// ErrExecutionNotFound 表示指定的执行记录不存在。
	ErrExecutionNotFound = xerrors.New(CodeExecutionNotFound, "execution not found")
	// ErrExecutionConflict 表示计划已经存在对应的执行记录。
	ErrExecutionConflict = xerrors.New(CodeExecutionConflict, "execution already exists for plan", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrExecutionTerminal 表示执行已处于终态，不能再被修改。
	ErrExecutionTerminal = xerrors.New(xerrors.CodeAlreadyTerminal, "execution already terminal", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrCyclicDependency 表示步骤依赖构成了环。
	ErrCyclicDependency = xerrors.New(CodeCyclicDependency, "cyclic step dependency")
	// ErrUnknownDependency 表示步骤引用了不存在的依赖。
	ErrUnknownDependency = xerrors.New(CodeUnknownDependency, "unknown step dependency")
	// ErrDeadlock 表示没有可调度的步骤但执行尚未完成。
	ErrDeadlock = xerrors.New(CodeDeadlock, "workflow deadlocked", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrSimulationUnavailable 表示仿真模式开启但没有接入仿真器。
	ErrSimulationUnavailable = xerrors.New(CodeSimulationUnavailable, "simulation mode has no simulator wired")
)

const (
	CodeWorkflowNotFound      xerrors.Code = "WORKFLOW_NOT_FOUND"
	CodeExecutionNotFound     xerrors.Code = "EXECUTION_NOT_FOUND"
	CodeExecutionConflict     xerrors.Code = "EXECUTION_CONFLICT"
	CodeCyclicDependency      xerrors.Code = "CYCLIC_DEPENDENCY"
	CodeUnknownDependency     xerrors.Code = "UNKNOWN_DEPENDENCY"
	CodeStepFailed            xerrors.Code = "STEP_EXECUTION_FAILED"
	CodeUnresolvedReference   xerrors.Code = "UNRESOLVED_REFERENCE"
	CodeDeadlock              xerrors.Code = "WORKFLOW_DEADLOCK"
	CodeSimulationUnavailable xerrors.Code = "SIMULATION_UNAVAILABLE"
	CodeExecutionPublish      xerrors.Code = "EXECUTION_PUBLISH_FAILED"
)

func init() {
	xerrors.Register(CodeWorkflowNotFound, xerrors.Attributes{
		Message:   "workflow plan not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeExecutionNotFound, xerrors.Attributes{
		Message:   "execution not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeExecutionConflict, xerrors.Attributes{
		Message:   "execution already exists for plan",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeCyclicDependency, xerrors.Attributes{
		Message:   "cyclic step dependency",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeUnknownDependency, xerrors.Attributes{
		Message:   "unknown step dependency",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeStepFailed, xerrors.Attributes{
		Message:   "step execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeUnresolvedReference, xerrors.Attributes{
		Message:   "deferred reference could not be resolved",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDeadlock, xerrors.Attributes{
		Message:   "workflow deadlocked",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeSimulationUnavailable, xerrors.Attributes{
		Message:   "simulation mode has no simulator wired",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeExecutionPublish, xerrors.Attributes{
		Message:   "failed to publish execution",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

func cloneMap(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	cloned := make(map[string]any, len(values))
	for key, value := range values {
		cloned[key] = value
	}
	return cloned
}

// nowUnixMilli 返回当前的 Unix 毫秒时间戳，包内时间戳统一使用该精度。
func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
