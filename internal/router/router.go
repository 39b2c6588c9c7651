package router

import (
	"time"

	"epp/internal/database"
	"epp/internal/handlers"
	"epp/internal/middleware"
	"epp/internal/models"
	"epp/internal/services"
	"epp/internal/validators"
	"epp/pkg/config"
	"epp/pkg/logger"
	"epp/pkg/response"

	"github.com/gin-gonic/gin"
)

// Services 路由层用到的服务集合
//
// 审批实例服务与推送中心在main里还要用（定时提醒），所以集中
// 构建一次，路由和main共用同一组实例。
type Services struct {
	Audit       *services.AuditService
	Users       *services.UserService
	Permissions *services.PermissionService
	Roles       *services.RoleService
	Resolver    *services.PermissionResolver
	RoleGate    *services.RoleGate
	Definitions *services.WorkflowDefinitionService
	Router      *services.ApprovalRouter
	Instances   *services.WorkflowInstanceService
	Hub         *handlers.NotificationHub
}

// NewServices 构建服务集合
func NewServices() *Services {
	db := database.GetDB()

	// 缓存关闭时闭包计算直接走数据库
	var cache services.ClosureCache
	if config.GetConfig().Cache.Enabled {
		cache = database.GetRedisCache()
	}

	audit := services.NewAuditService(db)
	userService := services.NewUserService(db)
	permissionService := services.NewPermissionService(db, audit, cache)
	roleService := services.NewRoleService(db, audit, cache)
	resolver := services.NewPermissionResolver(db, roleService, permissionService)
	roleGate := services.NewRoleGate(roleService)
	definitionService := services.NewWorkflowDefinitionService(db, audit)
	approvalRouter := services.NewApprovalRouter(db, definitionService)
	hub := handlers.NewNotificationHub()
	instanceService := services.NewWorkflowInstanceService(db, definitionService, approvalRouter, audit, hub)

	return &Services{
		Audit:       audit,
		Users:       userService,
		Permissions: permissionService,
		Roles:       roleService,
		Resolver:    resolver,
		RoleGate:    roleGate,
		Definitions: definitionService,
		Router:      approvalRouter,
		Instances:   instanceService,
		Hub:         hub,
	}
}

// SetupRouter 设置路由
func SetupRouter(svc *Services) *gin.Engine {
	if err := validators.Register(); err != nil {
		logger.GetLogger().Warnf("注册自定义校验器失败: %v", err)
	}

	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.SetupCORS())

	registerRoutes(router, svc)
	return router
}

// 注册所有路由
func registerRoutes(router *gin.Engine, svc *Services) {

	auth := middleware.NewAuthMiddleware(svc.Users, svc.Resolver, svc.RoleGate)

	api := router.Group("/api/v1")
	{
		// 健康检查接口
		api.GET("/health", healthCheck)
		api.GET("/ping", ping)

		// JWT认证路由（无需认证）
		authHandler := handlers.NewAuthHandler(svc.Users)
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)          // 用户登录
			authGroup.POST("/refresh", authHandler.RefreshToken) // 刷新Token
			authGroup.GET("/me", auth.RequireLogin(), authHandler.Me)
		}

		// 审批事件推送（token走查询参数）
		api.GET("/ws/notifications", svc.Hub.Subscribe)

		// 用户路由
		userHandler := handlers.NewUserHandler(svc.Users, svc.Roles)
		users := api.Group("/users")
		users.Use(auth.RequireLogin())
		{
			users.POST("", auth.RequirePermission("user", models.ActionCreate, models.ScopeAll), userHandler.Create)
			users.GET("", auth.RequirePermission("user", models.ActionRead, models.ScopeTeam), userHandler.GetAll)
			users.GET("/:id", auth.RequirePermission("user", models.ActionRead, models.ScopeTeam), userHandler.GetByID)
			users.GET("/:id/roles", auth.RequirePermission("user", models.ActionRead, models.ScopeTeam), userHandler.GetRoles)
			users.PUT("/:id/roles", auth.RequireAdmin(), userHandler.AssignRoles)
		}

		// 权限注册表路由（仅管理员维护）
		permissionHandler := handlers.NewPermissionHandler(svc.Permissions)
		permissions := api.Group("/permissions")
		permissions.Use(auth.RequireLogin())
		{
			permissions.GET("", permissionHandler.GetAll)
			permissions.GET("/:id", permissionHandler.GetByID)
			permissions.POST("", auth.RequireAdmin(), permissionHandler.Create)
			permissions.PUT("/:id", auth.RequireAdmin(), permissionHandler.Update)
			permissions.DELETE("/:id", auth.RequireAdmin(), permissionHandler.Delete)
		}

		// 角色路由
		roleHandler := handlers.NewRoleHandler(svc.Roles)
		roles := api.Group("/roles")
		roles.Use(auth.RequireLogin())
		{
			roles.GET("", roleHandler.GetAll)
			roles.GET("/:id", roleHandler.GetByID)
			roles.GET("/:id/closure", roleHandler.GetClosure)
			roles.POST("", auth.RequireAdmin(), roleHandler.Create)
			roles.PUT("/:id", auth.RequireAdmin(), roleHandler.Update)
			roles.DELETE("/:id", auth.RequireAdmin(), roleHandler.Delete)
			roles.PUT("/:id/permissions", auth.RequireAdmin(), roleHandler.AssignPermissions)
			roles.PUT("/:id/inherits", auth.RequireAdmin(), roleHandler.SetInherits)
		}

		// 访问决策查询路由
		accessHandler := handlers.NewAccessHandler(svc.Users, svc.Resolver, svc.RoleGate)
		access := api.Group("/access")
		access.Use(auth.RequireLogin())
		{
			access.POST("/check", accessHandler.CheckPermission)
			access.POST("/check-roles", accessHandler.CheckRoles)
		}

		// 审批流模板路由
		definitionHandler := handlers.NewWorkflowDefinitionHandler(svc.Definitions, svc.Router)
		definitions := api.Group("/workflow-definitions")
		definitions.Use(auth.RequireLogin())
		{
			definitions.GET("", definitionHandler.GetAll)
			definitions.GET("/:id", definitionHandler.GetByID)
			definitions.POST("/:id/preview", definitionHandler.PreviewPath)
			definitions.POST("", auth.RequireRoles(models.RoleGeneralManager, models.RoleSuperAdmin), definitionHandler.Create)
			definitions.PUT("/:id", auth.RequireRoles(models.RoleGeneralManager, models.RoleSuperAdmin), definitionHandler.Update)
			definitions.DELETE("/:id", auth.RequireRoles(models.RoleGeneralManager, models.RoleSuperAdmin), definitionHandler.Delete)
		}

		// 审批流实例路由
		instanceHandler := handlers.NewWorkflowInstanceHandler(svc.Instances)
		instances := api.Group("/workflow-instances")
		instances.Use(auth.RequireLogin())
		{
			instances.POST("", instanceHandler.Submit)
			instances.GET("/pending", instanceHandler.GetPendingForMe)
			instances.GET("/:document_type/:document_id", instanceHandler.GetByKey)
			instances.GET("/:document_type/:document_id/approvers", instanceHandler.GetPendingApprovers)
			instances.POST("/:document_type/:document_id/actions", instanceHandler.Act)
			instances.POST("/:document_type/:document_id/cancel", instanceHandler.Cancel)
		}
	}
}

func healthCheck(c *gin.Context) {
	data := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
		"service":   "EPP",
		"version":   "1.0.0",
	}
	response.Success(c, data)
}

func ping(c *gin.Context) {
	response.SuccessWithMessage(c, "pong", nil)
}
