package handlers

import (
	"strconv"

	"epp/internal/middleware"
	"epp/internal/services"
	"epp/pkg/pagination"
	"epp/pkg/response"

	"github.com/gin-gonic/gin"
)

type CreateRoleRequest struct {
	Name          string `json:"name" binding:"required,rolename"`
	DisplayName   string `json:"display_name" binding:"required"`
	DisplayNameEn string `json:"display_name_en"`
	Description   string `json:"description"`
}

type UpdateRoleRequest struct {
	DisplayName   string `json:"display_name" binding:"required"`
	DisplayNameEn string `json:"display_name_en"`
	Description   string `json:"description"`
}

type AssignPermissionsRequest struct {
	PermissionIDs []uint `json:"permission_ids"`
}

type SetInheritsRequest struct {
	ParentRoleIDs []uint `json:"parent_role_ids"`
}

// RoleHandler 角色处理器
type RoleHandler struct {
	roleService *services.RoleService
}

// NewRoleHandler 创建角色处理器
func NewRoleHandler(roleService *services.RoleService) *RoleHandler {
	return &RoleHandler{roleService: roleService}
}

// Create 创建角色
func (h *RoleHandler) Create(c *gin.Context) {
	var req CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	operator := middleware.CurrentUser(c)
	role, err := h.roleService.Create(operator.ID, operator.Username,
		req.Name, req.DisplayName, req.DisplayNameEn, req.Description)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.SuccessWithMessage(c, "创建成功", role)
}

// GetByID 获取角色详情
func (h *RoleHandler) GetByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的角色ID")
		return
	}

	role, err := h.roleService.GetByID(uint(id))
	if err != nil {
		response.NotFound(c, "角色不存在")
		return
	}

	response.Success(c, role)
}

// GetAll 获取角色列表
func (h *RoleHandler) GetAll(c *gin.Context) {
	params := pagination.ParsePageParams(c)

	roles, total, err := h.roleService.GetAllWithPage(params.Page, params.PageSize)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	response.SuccessWithPage(c, roles, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Update 更新角色
func (h *RoleHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的角色ID")
		return
	}

	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	operator := middleware.CurrentUser(c)
	role, err := h.roleService.Update(operator.ID, operator.Username,
		uint(id), req.DisplayName, req.DisplayNameEn, req.Description)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.SuccessWithMessage(c, "更新成功", role)
}

// Delete 删除角色
func (h *RoleHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的角色ID")
		return
	}

	operator := middleware.CurrentUser(c)
	if err := h.roleService.Delete(operator.ID, operator.Username, uint(id)); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}

// AssignPermissions 分配直接权限（整体替换）
func (h *RoleHandler) AssignPermissions(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的角色ID")
		return
	}

	var req AssignPermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	operator := middleware.CurrentUser(c)
	if err := h.roleService.AssignPermissions(operator.ID, operator.Username, uint(id), req.PermissionIDs); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.SuccessWithMessage(c, "权限分配成功", nil)
}

// SetInherits 设置继承的父角色（整体替换）
func (h *RoleHandler) SetInherits(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的角色ID")
		return
	}

	var req SetInheritsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	operator := middleware.CurrentUser(c)
	if err := h.roleService.SetInherits(operator.ID, operator.Username, uint(id), req.ParentRoleIDs); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.SuccessWithMessage(c, "继承关系设置成功", nil)
}

// GetClosure 获取角色的有效权限闭包（含继承）
func (h *RoleHandler) GetClosure(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的角色ID")
		return
	}

	permissionIDs, err := h.roleService.Closure(uint(id))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"role_id":        uint(id),
		"permission_ids": permissionIDs,
		"count":          len(permissionIDs),
	})
}
