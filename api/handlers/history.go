package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/api"
	"github.com/BaSui01/agentrewind/controller"
	"github.com/BaSui01/agentrewind/history"
	"github.com/BaSui01/agentrewind/persistence"
	"github.com/BaSui01/agentrewind/types"
)

// =============================================================================
// 🌳 分支与历史 Handler
// =============================================================================

// HistoryHandler 暴露运行控制、回退、分叉、导入导出与快照操作
type HistoryHandler struct {
	manager *controller.Manager
	repo    persistence.Repository
	logger  *zap.Logger
}

// NewHistoryHandler 创建分支处理器。repo 为 nil 时快照端点返回 503。
func NewHistoryHandler(manager *controller.Manager, repo persistence.Repository, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		manager: manager,
		repo:    repo,
		logger:  logger.With(zap.String("handler", "history")),
	}
}

// Register 在 mux 上注册 /api/v1 下的全部端点
func (h *HistoryHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/runs", h.HandleRun)
	mux.HandleFunc("GET /api/v1/tree", h.HandleTree)
	mux.HandleFunc("GET /api/v1/branches/{id}", h.HandleBranch)
	mux.HandleFunc("GET /api/v1/branches/{id}/history", h.HandleHistory)
	mux.HandleFunc("GET /api/v1/branches/{id}/transcript", h.HandleTranscript)
	mux.HandleFunc("GET /api/v1/branches/{id}/checkpoints/{seq}", h.HandleCheckpoint)
	mux.HandleFunc("POST /api/v1/branches/{id}/revert", h.HandleRevert)
	mux.HandleFunc("POST /api/v1/branches/{id}/branch", h.HandleFork)
	mux.HandleFunc("POST /api/v1/branches/{id}/resume", h.HandleResume)
	mux.HandleFunc("POST /api/v1/branches/{id}/pause", h.HandlePause)
	mux.HandleFunc("POST /api/v1/branches/{id}/retry-capture", h.HandleRetryCapture)
	mux.HandleFunc("GET /api/v1/branches/{id}/export", h.HandleExport)
	mux.HandleFunc("PUT /api/v1/branches/{id}/export", h.HandleImport)
	mux.HandleFunc("GET /api/v1/branches/{id}/events", h.HandleEvents)
	mux.HandleFunc("POST /api/v1/snapshots/save", h.HandleSave)
	mux.HandleFunc("POST /api/v1/snapshots/load", h.HandleLoad)
}

// =============================================================================
// 🎯 运行控制
// =============================================================================

// HandleRun 启动新对话
// @Summary 启动对话
// @Tags 分支
// @Accept json
// @Produce json
// @Param request body api.RunRequest true "任务"
// @Success 202 {object} Response{data=api.BranchRef}
// @Router /api/v1/runs [post]
func (h *HistoryHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req api.RunRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		WriteErrorMessage(w, r, types.ErrInvalidRequest, "task is required", h.logger)
		return
	}
	id, err := h.manager.Start(r.Context(), req.Task)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	writeAccepted(w, r, api.BranchRef{BranchID: id})
}

// HandleRevert 将分支回退到指定序号
// @Summary 回退
// @Tags 分支
// @Param id path int true "分支 ID"
// @Param request body api.RevertRequest true "目标序号"
// @Success 200 {object} Response{data=api.BranchInfo}
// @Failure 404 {object} Response "序号或分支不存在"
// @Failure 409 {object} Response "分支正在运行"
// @Router /api/v1/branches/{id}/revert [post]
func (h *HistoryHandler) HandleRevert(w http.ResponseWriter, r *http.Request) {
	id, ok := h.branchID(w, r)
	if !ok {
		return
	}
	var req api.RevertRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	if err := h.manager.Revert(r.Context(), id, req.Sequence); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.writeBranch(w, r, id)
}

// HandleFork 从分支的某个序号分叉
// @Summary 分叉
// @Tags 分支
// @Param id path int true "源分支 ID"
// @Param request body api.ForkRequest true "分叉点"
// @Success 201 {object} Response{data=api.BranchRef}
// @Router /api/v1/branches/{id}/branch [post]
func (h *HistoryHandler) HandleFork(w http.ResponseWriter, r *http.Request) {
	id, ok := h.branchID(w, r)
	if !ok {
		return
	}
	var req api.ForkRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	child, err := h.manager.Branch(r.Context(), id, req.Sequence, req.Label)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      api.BranchRef{BranchID: child},
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

// HandleResume 继续运行分支，可附带新任务
// @Summary 继续
// @Tags 分支
// @Param id path int true "分支 ID"
// @Param request body api.ResumeRequest false "可选任务"
// @Success 202 {object} Response{data=api.BranchRef}
// @Router /api/v1/branches/{id}/resume [post]
func (h *HistoryHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	id, ok := h.branchID(w, r)
	if !ok {
		return
	}
	var req api.ResumeRequest
	if err := DecodeJSONBody(w, r, &req, true, h.logger); err != nil {
		return
	}
	if err := h.manager.Resume(r.Context(), id, req.Task); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	writeAccepted(w, r, api.BranchRef{BranchID: id})
}

// HandlePause 在下一个事件边界暂停分支
// @Summary 暂停
// @Tags 分支
// @Param id path int true "分支 ID"
// @Success 200 {object} Response{data=api.BranchInfo}
// @Router /api/v1/branches/{id}/pause [post]
func (h *HistoryHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	id, ok := h.branchID(w, r)
	if !ok {
		return
	}
	if err := h.manager.Pause(r.Context(), id); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.writeBranch(w, r, id)
}

// HandleRetryCapture 对降级分支的末尾事件重新捕获检查点
// @Summary 重试捕获
// @Tags 分支
// @Param id path int true "分支 ID"
// @Success 200 {object} Response{data=api.CheckpointResponse}
// @Failure 422 {object} Response "部分智能体仍无法序列化"
// @Router /api/v1/branches/{id}/retry-capture [post]
func (h *HistoryHandler) HandleRetryCapture(w http.ResponseWriter, r *http.Request) {
	id, ok := h.branchID(w, r)
	if !ok {
		return
	}
	set, err := h.manager.RetryCapture(r.Context(), id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.CheckpointResponse{Sequence: set.Sequence(), Agents: set.AgentIDs()})
}

// =============================================================================
// 🔍 查询
// =============================================================================

// HandleTree 返回整棵分支树
// @Summary 分支树
// @Tags 查询
// @Success 200 {object} Response{data=api.TreeResponse}
// @Router /api/v1/tree [get]
func (h *HistoryHandler) HandleTree(w http.ResponseWriter, r *http.Request) {
	snap := h.manager.Tree()
	resp := api.TreeResponse{Root: snap.Root, Branches: make([]api.BranchInfo, 0, len(snap.Nodes))}
	for _, node := range snap.Nodes {
		resp.Branches = append(resp.Branches, h.branchInfo(node))
	}
	WriteSuccess(w, r, resp)
}

// HandleBranch 返回单个分支的状态
// @Summary 分支详情
// @Tags 查询
// @Param id path int true "分支 ID"
// @Success 200 {object} Response{data=api.BranchInfo}
// @Failure 404 {object} Response "分支不存在"
// @Router /api/v1/branches/{id} [get]
func (h *HistoryHandler) HandleBranch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.branchID(w, r)
	if !ok {
		return
	}
	h.writeBranch(w, r, id)
}

// HandleHistory 返回分支的完整事件日志
// @Summary 事件历史
// @Tags 查询
// @Param id path int true "分支 ID"
// @Success 200 {object} Response{data=api.HistoryResponse}
// @Router /api/v1/branches/{id}/history [get]
func (h *HistoryHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.branchID(w, r)
	if !ok {
		return
	}
	events, err := h.manager.History(id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if events == nil {
		events = []types.Event{}
	}
	WriteSuccess(w, r, api.HistoryResponse{BranchID: id, Events: events})
}

// HandleTranscript 返回可读的对话记录
// @Summary 对话记录
// @Tags 查询
// @Param id path int true "分支 ID"
// @Success 200 {object} Response{data=api.TranscriptResponse}
// @Router /api/v1/branches/{id}/transcript [get]
func (h *HistoryHandler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := h.branchID(w, r)
	if !ok {
		return
	}
	entries, err := h.manager.Transcript(id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if entries == nil {
		entries = []history.TranscriptEntry{}
	}
	WriteSuccess(w, r, api.TranscriptResponse{BranchID: id, Entries: entries})
}

// HandleCheckpoint 返回某序号上记录的检查点
// @Summary 检查点
// @Tags 查询
// @Param id path int true "分支 ID"
// @Param seq path int true "序号"
// @Success 200 {object} Response{data=api.CheckpointResponse}
// @Failure 404 {object} Response "未记录"
// @Router /api/v1/branches/{id}/checkpoints/{seq} [get]
func (h *HistoryHandler) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := h.branchID(w, r)
	if !ok {
		return
	}
	seq, err := strconv.ParseUint(r.PathValue("seq"), 10, 64)
	if err != nil {
		WriteErrorMessage(w, r, types.ErrInvalidRequest, "sequence must be a non-negative integer", h.logger)
		return
	}
	set, err := h.manager.Checkpoint(id, types.Sequence(seq))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.CheckpointResponse{Sequence: set.Sequence(), Agents: set.AgentIDs()})
}

// =============================================================================
// 📤 导入导出
// =============================================================================

// HandleExport 导出分支的日志与检查点
// @Summary 导出分支
// @Tags 导入导出
// @Param id path int true "分支 ID"
// @Success 200 {object} Response{data=api.BranchExport}
// @Router /api/v1/branches/{id}/export [get]
func (h *HistoryHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.branchID(w, r)
	if !ok {
		return
	}
	logBlob, err := h.manager.ExportLog(id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	cpBlob, err := h.manager.ExportCheckpoints(id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.BranchExport{Log: logBlob, Checkpoints: cpBlob})
}

// HandleImport 用导出文档替换分支的日志与检查点，并将智能体恢复到最新检查点
// @Summary 导入分支
// @Tags 导入导出
// @Param id path int true "分支 ID"
// @Param request body api.BranchExport true "导出文档"
// @Success 200 {object} Response{data=api.BranchInfo}
// @Router /api/v1/branches/{id}/export [put]
func (h *HistoryHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.branchID(w, r)
	if !ok {
		return
	}
	var req api.BranchExport
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	if len(req.Log) == 0 {
		WriteErrorMessage(w, r, types.ErrInvalidRequest, "log is required", h.logger)
		return
	}
	doc, err := history.DecodeLog(req.Log)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if doc.BranchID != id {
		WriteError(w, r, types.Errorf(types.ErrInvalidRequest,
			"log belongs to branch %s, not %s", doc.BranchID, id), h.logger)
		return
	}

	ctx := r.Context()
	if err := h.manager.ImportLog(ctx, req.Log); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if len(req.Checkpoints) > 0 {
		if err := h.manager.ImportCheckpoints(ctx, req.Checkpoints); err != nil {
			WriteError(w, r, err, h.logger)
			return
		}
	}
	h.logger.Info("branch imported", zap.Stringer("branch_id", id), zap.Int("events", len(doc.Events)))
	h.writeBranch(w, r, id)
}

// =============================================================================
// 💾 快照
// =============================================================================

// HandleSave 将整个分支宇宙写入快照仓库
// @Summary 保存快照
// @Tags 快照
// @Success 200 {object} Response{data=api.SnapshotResponse}
// @Failure 409 {object} Response "存在运行中的分支"
// @Router /api/v1/snapshots/save [post]
func (h *HistoryHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w, r) {
		return
	}
	if err := h.manager.Save(r.Context(), h.repo); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.SnapshotResponse{Branches: len(h.manager.Branches()), At: time.Now().UTC()})
}

// HandleLoad 从快照仓库重建分支宇宙（仅限空管理器）
// @Summary 加载快照
// @Tags 快照
// @Success 200 {object} Response{data=api.SnapshotResponse}
// @Failure 404 {object} Response "没有已保存的快照"
// @Router /api/v1/snapshots/load [post]
func (h *HistoryHandler) HandleLoad(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w, r) {
		return
	}
	if err := h.manager.Load(r.Context(), h.repo); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.SnapshotResponse{Branches: len(h.manager.Branches()), At: time.Now().UTC()})
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *HistoryHandler) branchID(w http.ResponseWriter, r *http.Request) (types.BranchID, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		WriteError(w, r, types.Errorf(types.ErrInvalidRequest, "invalid branch id %q", raw), h.logger)
		return 0, false
	}
	return types.BranchID(id), true
}

func (h *HistoryHandler) requireRepo(w http.ResponseWriter, r *http.Request) bool {
	if h.repo == nil {
		WriteErrorMessage(w, r, types.ErrStoreUnavailable, "no snapshot store configured", h.logger)
		return false
	}
	return true
}

func (h *HistoryHandler) writeBranch(w http.ResponseWriter, r *http.Request, id types.BranchID) {
	for _, node := range h.manager.Tree().Nodes {
		if node.ID == id {
			WriteSuccess(w, r, h.branchInfo(node))
			return
		}
	}
	WriteError(w, r, types.Errorf(types.ErrBranchNotFound, "branch %s does not exist", id), h.logger)
}

// branchInfo 合并树节点与控制器状态。被放弃的分支没有控制器。
func (h *HistoryHandler) branchInfo(node history.BranchNode) api.BranchInfo {
	info := api.BranchInfo{BranchNode: node, State: "abandoned"}
	c, err := h.manager.Controller(node.ID)
	if err != nil {
		return info
	}
	info.State = c.State().String()
	info.CurrentSequence = c.Journal().CurrentSequence()
	info.Events = c.Journal().Log().Len()
	info.Degraded = c.Degraded()
	if runErr := c.Err(); runErr != nil {
		info.LastError = runErr.Error()
	}
	return info
}

func writeAccepted(w http.ResponseWriter, r *http.Request, data any) {
	WriteJSON(w, http.StatusAccepted, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}
