package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/api"
	"github.com/BaSui01/agentrewind/types"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 10 * time.Second
)

// HandleEvents 将分支新追加的事件通过 WebSocket 推送给客户端。
// 可选查询参数 from=<seq> 会先回放该序号之后已记录的事件。
// @Summary 事件流
// @Tags 查询
// @Param id path int true "分支 ID"
// @Param from query int false "回放起点（不含）"
// @Router /api/v1/branches/{id}/events [get]
func (h *HistoryHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.branchID(w, r)
	if !ok {
		return
	}
	var replayFrom *types.Sequence
	if raw := r.URL.Query().Get("from"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			WriteErrorMessage(w, r, types.ErrInvalidRequest, "from must be a non-negative integer", h.logger)
			return
		}
		seq := types.Sequence(v)
		replayFrom = &seq
	}

	// 先订阅再回放，保证不漏事件；回放过的序号在实时流中跳过一次。
	events, cancel, err := h.manager.Subscribe(id, streamBuffer)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	defer cancel()

	// 事件流是长连接，不受服务器 WriteTimeout 约束。
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// 客户端不发送数据；CloseRead 在对端关闭时取消 ctx。
	ctx := conn.CloseRead(r.Context())
	logger := h.logger.With(zap.Stringer("branch_id", id), zap.String("request_id", requestID(r)))
	logger.Debug("event stream opened")

	var replayed types.Sequence
	if replayFrom != nil {
		past, err := h.manager.History(id)
		if err != nil {
			_ = writeStream(ctx, conn, api.StreamMessage{Type: "error", Error: err.Error()})
			return
		}
		for i := range past {
			if past[i].Sequence <= *replayFrom {
				continue
			}
			if err := writeStream(ctx, conn, api.StreamMessage{Type: "event", Event: &past[i]}); err != nil {
				return
			}
			replayed = past[i].Sequence
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("event stream closed by client")
			return
		case evt, open := <-events:
			if !open {
				return
			}
			if evt.Sequence <= replayed {
				continue
			}
			replayed = 0
			if err := writeStream(ctx, conn, api.StreamMessage{Type: "event", Event: &evt}); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Warn("event stream write failed", zap.Error(err))
				}
				return
			}
		}
	}
}

func writeStream(ctx context.Context, conn *websocket.Conn, msg api.StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
