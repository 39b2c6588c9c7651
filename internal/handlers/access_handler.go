package handlers

import (
	"epp/internal/middleware"
	"epp/internal/services"
	"epp/pkg/response"

	"github.com/gin-gonic/gin"
)

type CheckAccessRequest struct {
	Resource string                 `json:"resource" binding:"required"`
	Action   string                 `json:"action" binding:"required"`
	Scope    string                 `json:"scope" binding:"required"`
	UserID   uint                   `json:"user_id"`
	Context  map[string]interface{} `json:"context"`
}

type CheckRolesRequest struct {
	Roles  []string `json:"roles" binding:"required,min=1"`
	UserID uint     `json:"user_id"`
}

// AccessHandler 访问决策处理器
type AccessHandler struct {
	userService *services.UserService
	resolver    *services.PermissionResolver
	roleGate    *services.RoleGate
}

// NewAccessHandler 创建访问决策处理器
func NewAccessHandler(userService *services.UserService, resolver *services.PermissionResolver, roleGate *services.RoleGate) *AccessHandler {
	return &AccessHandler{
		userService: userService,
		resolver:    resolver,
		roleGate:    roleGate,
	}
}

// 默认以当前登录用户为主体；只有管理员可以代查其他用户
func (h *AccessHandler) resolvePrincipal(c *gin.Context, userID uint) (*services.Principal, bool) {
	current := middleware.CurrentUser(c)
	if userID == 0 || userID == current.ID {
		return services.PrincipalFromUser(current), true
	}
	if !current.IsAdmin {
		response.Forbidden(c, "无权查询其他用户的访问决策")
		return nil, false
	}
	target, err := h.userService.GetByID(userID)
	if err != nil {
		response.NotFound(c, "用户不存在")
		return nil, false
	}
	return services.PrincipalFromUser(target), true
}

// CheckPermission 权限决策查询
func (h *AccessHandler) CheckPermission(c *gin.Context) {
	var req CheckAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	principal, ok := h.resolvePrincipal(c, req.UserID)
	if !ok {
		return
	}

	decision := h.resolver.Resolve(principal, req.Resource, req.Action, req.Scope, req.Context)
	response.Success(c, decision)
}

// CheckRoles 角色门禁查询
func (h *AccessHandler) CheckRoles(c *gin.Context) {
	var req CheckRolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	principal, ok := h.resolvePrincipal(c, req.UserID)
	if !ok {
		return
	}

	decision := h.roleGate.RequireRoles(principal, req.Roles)
	response.Success(c, decision)
}
