package database

import (
	"epp/internal/models"
	"epp/pkg/logger"
)

// Migrate 执行数据库迁移
func Migrate() error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting database migration...")

	err := DB.AutoMigrate(
		// 权限与角色
		&models.User{},
		&models.Permission{},
		&models.Role{},
		&models.RolePermission{},
		&models.RoleInherit{},
		&models.UserRole{},
		// 审批流配置
		&models.WorkflowDefinition{},
		&models.ApprovalLevel{},
		&models.LevelApproverRole{},
		&models.RoutingRule{},
		// 审批流实例
		&models.WorkflowInstance{},
		&models.ApprovalRecord{},
		// 审计
		&models.AuditLog{},
	)

	if err != nil {
		appLogger.Errorf("Database migration failed: %v", err)
		return err
	}

	appLogger.Info("Database migration completed successfully")

	// 种子数据初始化将在 main.go 中单独调用，避免循环依赖

	return nil
}
