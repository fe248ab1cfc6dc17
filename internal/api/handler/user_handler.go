package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/social-core/internal/profile"
	"github.com/d60-Lab/social-core/pkg/response"
)

type updateProfileRequest struct {
	Handle      *string `json:"handle" binding:"omitempty,handle"`
	DisplayName *string `json:"display_name" binding:"omitempty,max=128"`
	AvatarURL   *string `json:"avatar_url" binding:"omitempty,url"`
}

// SearchUsers handle 前缀搜索
// @Summary 搜索用户
// @Tags 用户
// @Security BearerAuth
// @Produce json
// @Param q query string true "handle 前缀"
// @Success 200 {object} response.Response{data=[]profile.Profile}
// @Router /search/users [get]
func (h *Handler) SearchUsers(c *gin.Context) {
	list, err := h.profiles.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

// GetMe 当前用户资料
// @Summary 我的资料
// @Tags 用户
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Response{data=profile.Profile}
// @Failure 404 {object} response.Response
// @Router /me [get]
func (h *Handler) GetMe(c *gin.Context) {
	h.respondProfile(c, currentUser(c))
}

// UpdateMe 合并更新当前用户资料
// @Summary 更新我的资料
// @Tags 用户
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body updateProfileRequest true "资料字段"
// @Success 200 {object} response.Response{data=profile.Profile}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /me [put]
func (h *Handler) UpdateMe(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p, err := h.profiles.Update(c.Request.Context(), currentUser(c), profile.UpdateInput{
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, p)
}

// GetUser 用户资料
// @Summary 用户资料
// @Tags 用户
// @Security BearerAuth
// @Produce json
// @Param user_id path string true "用户ID"
// @Success 200 {object} response.Response{data=profile.Profile}
// @Failure 404 {object} response.Response
// @Router /users/{user_id} [get]
func (h *Handler) GetUser(c *gin.Context) {
	h.respondProfile(c, c.Param("user_id"))
}

func (h *Handler) respondProfile(c *gin.Context, id string) {
	p, err := h.profiles.GetProfile(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if p == nil {
		response.NotFound(c, "user not found")
		return
	}
	response.Success(c, p)
}
