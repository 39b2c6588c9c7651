package middleware

import (
	"epp/internal/models"
	"epp/internal/services"
	"epp/pkg/jwt"
	"epp/pkg/response"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 权限中间件
type AuthMiddleware struct {
	userService *services.UserService
	resolver    *services.PermissionResolver
	roleGate    *services.RoleGate
	jwtManager  *jwt.JWTManager
}

// NewAuthMiddleware 创建权限中间件
func NewAuthMiddleware(userService *services.UserService, resolver *services.PermissionResolver, roleGate *services.RoleGate) *AuthMiddleware {
	return &AuthMiddleware{
		userService: userService,
		resolver:    resolver,
		roleGate:    roleGate,
		jwtManager:  jwt.GetJWTManager(), // 使用全局JWT管理器
	}
}

// RequireLogin 要求登录
func (m *AuthMiddleware) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 从Authorization头获取JWT token
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		// 检查Bearer格式
		if !strings.HasPrefix(authHeader, "Bearer ") {
			response.Unauthorized(c, "认证头格式错误")
			c.Abort()
			return
		}

		// 提取token
		tokenString := authHeader[7:] // 去掉 "Bearer "

		// 验证token
		claims, err := m.jwtManager.VerifyToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "Token无效或已过期")
			c.Abort()
			return
		}

		// 获取用户信息
		user, err := m.userService.GetByID(claims.UserID)
		if err != nil {
			response.Unauthorized(c, "用户不存在")
			c.Abort()
			return
		}

		// 检查用户状态
		if !user.IsActive() {
			response.Unauthorized(c, "用户已被禁用")
			c.Abort()
			return
		}

		// 将用户信息保存到上下文
		c.Set("user", user)
		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("is_admin", claims.IsAdmin)
		c.Set("claims", claims)

		c.Next()
	}
}

// RequirePermission 要求特定权限（经过权限决策函数）
//
// 请求的路径参数与查询参数合并为决策上下文，供命中权限的附加条件求值。
func (m *AuthMiddleware) RequirePermission(resource, action, requiredScope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, exists := c.Get("user")
		if !exists {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		principal := services.PrincipalFromUser(user.(*models.User))
		decision := m.resolver.Resolve(principal, resource, action, requiredScope, buildContext(c))

		if !decision.Allowed {
			if decision.ReasonCode == services.ReasonUnauthenticated {
				response.Unauthorized(c, "请先登录")
			} else {
				response.Forbidden(c, "权限不足: "+decision.ReasonCode)
			}
			c.Abort()
			return
		}

		// 命中权限的范围与条件传给handler做行级过滤
		c.Set("matched_scope", decision.MatchedScope)
		if decision.Conditions != nil {
			c.Set("permission_conditions", decision.Conditions)
		}

		c.Next()
	}
}

// RequireRoles 要求持有任一指定角色（不经过权限间接层）
func (m *AuthMiddleware) RequireRoles(roleNames ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, exists := c.Get("user")
		if !exists {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		principal := services.PrincipalFromUser(user.(*models.User))
		decision := m.roleGate.RequireRoles(principal, roleNames)

		if !decision.Allowed {
			response.Forbidden(c, "权限不足：需要 "+strings.Join(decision.RequiredRoles, "/")+" 角色")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireAdmin 要求平台管理员
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, exists := c.Get("user")
		if !exists {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		if !user.(*models.User).IsAdmin {
			response.Forbidden(c, "需要平台管理员权限")
			c.Abort()
			return
		}

		c.Next()
	}
}

// buildContext 合并路径参数和查询参数作为权限决策上下文
func buildContext(c *gin.Context) map[string]interface{} {
	context := make(map[string]interface{})
	for _, param := range c.Params {
		context[param.Key] = param.Value
	}
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			context[key] = values[0]
		}
	}
	return context
}

// CurrentUser 从上下文取当前用户
func CurrentUser(c *gin.Context) *models.User {
	user, exists := c.Get("user")
	if !exists {
		return nil
	}
	return user.(*models.User)
}
