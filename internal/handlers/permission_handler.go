package handlers

import (
	"strconv"

	"epp/internal/middleware"
	"epp/internal/services"
	"epp/pkg/pagination"
	"epp/pkg/response"

	"github.com/gin-gonic/gin"
)

type CreatePermissionRequest struct {
	Resource    string                 `json:"resource" binding:"required"`
	Action      string                 `json:"action" binding:"required"`
	Scope       string                 `json:"scope" binding:"required"`
	Name        string                 `json:"name" binding:"required"`
	Description string                 `json:"description"`
	Conditions  map[string]interface{} `json:"conditions"`
}

type UpdatePermissionRequest struct {
	Name        string                 `json:"name" binding:"required"`
	Description string                 `json:"description"`
	Conditions  map[string]interface{} `json:"conditions"`
}

// PermissionHandler 权限处理器
type PermissionHandler struct {
	permissionService *services.PermissionService
}

// NewPermissionHandler 创建权限处理器
func NewPermissionHandler(permissionService *services.PermissionService) *PermissionHandler {
	return &PermissionHandler{permissionService: permissionService}
}

// Create 创建权限
func (h *PermissionHandler) Create(c *gin.Context) {
	var req CreatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	operator := middleware.CurrentUser(c)
	permission, err := h.permissionService.Create(operator.ID, operator.Username,
		req.Resource, req.Action, req.Scope, req.Name, req.Description, req.Conditions)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.SuccessWithMessage(c, "创建成功", permission)
}

// GetByID 获取权限详情
func (h *PermissionHandler) GetByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的权限ID")
		return
	}

	permission, err := h.permissionService.GetByID(uint(id))
	if err != nil {
		response.NotFound(c, "权限不存在")
		return
	}

	response.Success(c, permission)
}

// GetAll 获取权限列表
func (h *PermissionHandler) GetAll(c *gin.Context) {
	params := pagination.ParsePageParams(c)
	resource := c.Query("resource")

	permissions, total, err := h.permissionService.GetAll(resource, params.Page, params.PageSize)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	response.SuccessWithPage(c, permissions, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Update 更新权限
func (h *PermissionHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的权限ID")
		return
	}

	var req UpdatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	operator := middleware.CurrentUser(c)
	permission, err := h.permissionService.Update(operator.ID, operator.Username,
		uint(id), req.Name, req.Description, req.Conditions)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.SuccessWithMessage(c, "更新成功", permission)
}

// Delete 删除权限
func (h *PermissionHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的权限ID")
		return
	}

	operator := middleware.CurrentUser(c)
	if err := h.permissionService.Delete(operator.ID, operator.Username, uint(id)); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}
