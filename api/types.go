package api

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/agentrewind/history"
	"github.com/BaSui01/agentrewind/types"
)

// =============================================================================
// 运行与分支操作
// =============================================================================

// RunRequest starts a new conversation.
// @Description 启动对话请求
type RunRequest struct {
	// 用户任务
	Task string `json:"task" example:"Plan a three-day trip to Kyoto" binding:"required"`
}

// BranchRef names a branch created or targeted by an operation.
// @Description 分支引用
type BranchRef struct {
	BranchID types.BranchID `json:"branch_id" example:"1"`
}

// RevertRequest truncates a branch.
// @Description 回退请求
type RevertRequest struct {
	// 保留到（含）该序号的事件
	Sequence types.Sequence `json:"sequence" example:"3"`
}

// ForkRequest creates a branch from a point in another.
// @Description 分叉请求
type ForkRequest struct {
	Sequence types.Sequence `json:"sequence" example:"2"`
	Label    string         `json:"label,omitempty" example:"alternative plan"`
}

// ResumeRequest continues a branch. Without a task the runtime picks up
// where it stopped.
// @Description 继续运行请求
type ResumeRequest struct {
	Task *string `json:"task,omitempty"`
}

// =============================================================================
// 查询结果
// =============================================================================

// BranchInfo describes one branch and its controller.
// @Description 分支信息
type BranchInfo struct {
	history.BranchNode
	State           string         `json:"state" example:"paused"`
	CurrentSequence types.Sequence `json:"current_sequence" example:"4"`
	Events          int            `json:"events" example:"4"`
	Degraded        bool           `json:"degraded"`
	LastError       string         `json:"last_error,omitempty"`
}

// TreeResponse is the whole branch tree with per-branch status.
// @Description 分支树
type TreeResponse struct {
	Root     types.BranchID `json:"root"`
	Branches []BranchInfo   `json:"branches"`
}

// HistoryResponse lists a branch's events.
// @Description 事件历史
type HistoryResponse struct {
	BranchID types.BranchID `json:"branch_id"`
	Events   []types.Event  `json:"events"`
}

// TranscriptResponse is the readable conversation of a branch.
// @Description 对话记录
type TranscriptResponse struct {
	BranchID types.BranchID            `json:"branch_id"`
	Entries  []history.TranscriptEntry `json:"entries"`
}

// CheckpointResponse reports a recorded checkpoint set.
// @Description 检查点
type CheckpointResponse struct {
	Sequence types.Sequence `json:"sequence"`
	Agents   []string       `json:"agents"`
}

// BranchExport carries a branch's log and checkpoints exactly as the
// history codec encodes them.
// @Description 分支导出
type BranchExport struct {
	Log         json.RawMessage `json:"log" swaggertype:"object"`
	Checkpoints json.RawMessage `json:"checkpoints" swaggertype:"object"`
}

// SnapshotResponse reports a save or load against the snapshot repository.
// @Description 快照结果
type SnapshotResponse struct {
	Branches int       `json:"branches"`
	At       time.Time `json:"at"`
}

// =============================================================================
// 事件流
// =============================================================================

// StreamMessage is one WebSocket frame on /branches/{id}/events.
// @Description 事件流消息
type StreamMessage struct {
	// event 或 error
	Type  string       `json:"type" example:"event"`
	Event *types.Event `json:"event,omitempty"`
	Error string       `json:"error,omitempty"`
}
