package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/social-core/internal/model"
	"github.com/d60-Lab/social-core/internal/profile"
	"github.com/d60-Lab/social-core/pkg/response"
)

// Follow 发起关注请求（需对方审批）
// @Summary 关注用户
// @Tags 关系链
// @Security BearerAuth
// @Produce json
// @Param user_id path string true "被关注用户ID"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /relations/{user_id}/follow [post]
func (h *Handler) Follow(c *gin.Context) {
	status, err := h.relService.Follow(c.Request.Context(), currentUser(c), c.Param("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"status": status})
}

// Unfollow 取消关注（包括撤回未审批的请求）
// @Summary 取消关注
// @Tags 关系链
// @Security BearerAuth
// @Produce json
// @Param user_id path string true "被关注用户ID"
// @Success 200 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /relations/{user_id}/follow [delete]
func (h *Handler) Unfollow(c *gin.Context) {
	if err := h.relService.Unfollow(c.Request.Context(), currentUser(c), c.Param("user_id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// CheckStatus 查询当前用户对某用户的关注状态
// @Summary 关注状态
// @Tags 关系链
// @Security BearerAuth
// @Produce json
// @Param user_id path string true "用户ID"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /relations/{user_id}/status [get]
func (h *Handler) CheckStatus(c *gin.Context) {
	status, err := h.relService.CheckStatus(c.Request.Context(), currentUser(c), c.Param("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"status": status})
}

// AcceptRequest 通过关注请求
// @Summary 通过关注请求
// @Tags 关系链
// @Security BearerAuth
// @Produce json
// @Param requester_id path string true "请求方用户ID"
// @Success 200 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /follow-requests/{requester_id}/accept [post]
func (h *Handler) AcceptRequest(c *gin.Context) {
	if err := h.relService.AcceptFollowRequest(c.Request.Context(), currentUser(c), c.Param("requester_id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// RejectRequest 拒绝关注请求
// @Summary 拒绝关注请求
// @Tags 关系链
// @Security BearerAuth
// @Produce json
// @Param requester_id path string true "请求方用户ID"
// @Success 200 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /follow-requests/{requester_id}/reject [post]
func (h *Handler) RejectRequest(c *gin.Context) {
	if err := h.relService.RejectFollowRequest(c.Request.Context(), currentUser(c), c.Param("requester_id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// ListPendingRequests 当前用户待审批的关注请求（附资料）
// @Summary 待审批请求
// @Tags 关系链
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /follow-requests [get]
func (h *Handler) ListPendingRequests(c *gin.Context) {
	ids, err := h.relService.ListPendingRequests(c.Request.Context(), currentUser(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respondProfiles(c, ids, gin.H{"count": len(ids)})
}

// ListFollowing 查询某用户已通过的关注
// @Summary 查询关注列表
// @Tags 关系链
// @Security BearerAuth
// @Param user_id path string true "用户ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /relations/{user_id}/following [get]
func (h *Handler) ListFollowing(c *gin.Context) {
	page, pageSize := pageParams(c)
	ids, err := h.relService.ListFollowing(c.Request.Context(), c.Param("user_id"), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respondProfiles(c, ids, gin.H{"page": page, "page_size": pageSize})
}

// ListFollowers 查询某用户的粉丝
// @Summary 查询粉丝列表
// @Tags 关系链
// @Security BearerAuth
// @Param user_id path string true "用户ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /relations/{user_id}/followers [get]
func (h *Handler) ListFollowers(c *gin.Context) {
	page, pageSize := pageParams(c)
	ids, err := h.relService.ListFollowers(c.Request.Context(), c.Param("user_id"), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respondProfiles(c, ids, gin.H{"page": page, "page_size": pageSize})
}

// Counts 粉丝/关注/待审批计数
// @Summary 关系计数
// @Tags 关系链
// @Security BearerAuth
// @Param user_id path string true "用户ID"
// @Success 200 {object} response.Response{data=service.SocialCounts}
// @Router /relations/{user_id}/counts [get]
func (h *Handler) Counts(c *gin.Context) {
	counts, err := h.counters.SocialCounts(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, counts)
}

// Mutual 当前用户与某用户的共同关注数
// @Summary 共同关注数
// @Tags 关系链
// @Security BearerAuth
// @Param user_id path string true "用户ID"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /relations/{user_id}/mutual [get]
func (h *Handler) Mutual(c *gin.Context) {
	n, err := h.counters.MutualFriendsCount(c.Request.Context(), currentUser(c), c.Param("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"count": n})
}

// Suggestions 二度关系推荐：我关注的人所关注的人，附共同关注数和我对其的关注状态
// @Summary 推荐关注
// @Tags 关系链
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /relations/suggestions [get]
func (h *Handler) Suggestions(c *gin.Context) {
	list, err := h.counters.Suggestions(c.Request.Context(), currentUser(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	ids := make([]string, len(list))
	mutual := make(map[string]int, len(list))
	status := make(map[string]model.FollowStatus, len(list))
	for i, s := range list {
		ids[i] = s.UserID
		mutual[s.UserID] = s.MutualCount
		status[s.UserID] = s.Status
	}
	h.respondProfiles(c, ids, gin.H{"mutual": mutual, "status": status})
}

// Reconcile 全量对账，仅管理员
// @Summary 关系链对账
// @Tags 关系链
// @Security BearerAuth
// @Param repair query bool false "是否修复" default(false)
// @Success 200 {object} response.Response{data=service.SweepResult}
// @Failure 403 {object} response.Response
// @Router /graph/reconcile [post]
func (h *Handler) Reconcile(c *gin.Context) {
	repair, _ := strconv.ParseBool(c.DefaultQuery("repair", "false"))
	res, err := h.reconciler.Sweep(c.Request.Context(), repair)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}

// respondProfiles 把 id 列表补全为资料，资料缺失的用户被过滤
func (h *Handler) respondProfiles(c *gin.Context, ids []string, extra gin.H) {
	list, err := h.profiles.LoadProfiles(c.Request.Context(), ids)
	if err != nil {
		response.Error(c, err)
		return
	}
	if list == nil {
		list = []profile.Profile{}
	}
	extra["list"] = list
	response.Success(c, extra)
}
