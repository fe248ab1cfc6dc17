package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/profile"
	"github.com/d60-Lab/social-core/pkg/response"
)

type sendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// conversationItem 会话列表项，附带对方资料
type conversationItem struct {
	model.ConversationSummary
	Peer *profile.Profile `json:"peer,omitempty"`
}

// SendMessage 发送消息，首次发送时创建会话
// @Summary 发送消息
// @Tags 聊天
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param peer_id path string true "对方用户ID"
// @Param request body sendMessageRequest true "消息内容"
// @Success 200 {object} response.Response{data=model.Message}
// @Failure 400 {object} response.Response
// @Failure 429 {object} response.Response
// @Router /chats/{peer_id}/messages [post]
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	msg, err := h.chat.SendMessage(c.Request.Context(), currentUser(c), c.Param("peer_id"), req.Text)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, msg)
}

// ListMessages 会话历史，按时间升序
// @Summary 消息历史
// @Tags 聊天
// @Security BearerAuth
// @Produce json
// @Param peer_id path string true "对方用户ID"
// @Success 200 {object} response.Response{data=[]model.Message}
// @Router /chats/{peer_id}/messages [get]
func (h *Handler) ListMessages(c *gin.Context) {
	me := currentUser(c)
	msgs, err := h.chat.History(c.Request.Context(), me, model.ConversationKey(me, c.Param("peer_id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"conversation_id": model.ConversationKey(me, c.Param("peer_id")), "list": msgs})
}

// MarkRead 清零当前用户在该会话的未读数
// @Summary 标记已读
// @Tags 聊天
// @Security BearerAuth
// @Produce json
// @Param peer_id path string true "对方用户ID"
// @Success 200 {object} response.Response
// @Router /chats/{peer_id}/read [post]
func (h *Handler) MarkRead(c *gin.Context) {
	me := currentUser(c)
	if err := h.chat.MarkRead(c.Request.Context(), model.ConversationKey(me, c.Param("peer_id")), me); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// ListConversations 会话列表（按最近更新倒序）及未读总数
// @Summary 会话列表
// @Tags 聊天
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /chats [get]
func (h *Handler) ListConversations(c *gin.Context) {
	me := currentUser(c)
	list, err := h.chat.ListConversations(c.Request.Context(), me)
	if err != nil {
		response.Error(c, err)
		return
	}
	model.SortByRecent(list)
	items, err := h.enrichConversations(c, me, list)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"list": items, "total_unread": model.TotalUnread(list, me)})
}

// enrichConversations 附上对方资料；资料不存在时 peer 为空，会话仍保留
func (h *Handler) enrichConversations(c *gin.Context, me string, list []model.ConversationSummary) ([]conversationItem, error) {
	peerIDs := make([]string, len(list))
	for i, s := range list {
		peerIDs[i] = s.Peer(me)
	}
	profiles, err := h.profiles.LoadProfiles(c.Request.Context(), peerIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]profile.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	items := make([]conversationItem, len(list))
	for i, s := range list {
		items[i] = conversationItem{ConversationSummary: s}
		if p, ok := byID[peerIDs[i]]; ok {
			p := p
			items[i].Peer = &p
		}
	}
	return items, nil
}
