package main

import (
	"fmt"

	"epp/internal/database"
	"epp/internal/models"
	"epp/internal/services"
	"epp/pkg/logger"

	"gorm.io/gorm"
)

// seedData 初始化种子数据
func seedData() error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting seed data initialization...")

	db := database.GetDB()

	// 1. 初始化权限注册表
	if err := initializePermissions(db); err != nil {
		return fmt.Errorf("初始化权限失败: %v", err)
	}

	// 2. 创建系统角色
	if err := createSystemRoles(db); err != nil {
		return fmt.Errorf("创建系统角色失败: %v", err)
	}

	// 3. 创建默认管理员用户
	if err := createDefaultAdmin(db); err != nil {
		return fmt.Errorf("创建默认管理员失败: %v", err)
	}

	// 4. 创建默认审批流模板
	if err := createDefaultWorkflows(db); err != nil {
		return fmt.Errorf("创建默认审批流模板失败: %v", err)
	}

	appLogger.Info("Seed data initialization completed successfully")
	return nil
}

// initializePermissions 初始化权限
func initializePermissions(db *gorm.DB) error {
	type permDef struct {
		Resource string
		Action   string
		Scope    string
		Name     string
	}

	defaults := []permDef{
		// 供应商
		{"supplier", models.ActionCreate, models.ScopeOwn, "创建供应商"},
		{"supplier", models.ActionRead, models.ScopeTeam, "查看供应商"},
		{"supplier", models.ActionRead, models.ScopeAll, "查看全部供应商"},
		{"supplier", models.ActionUpdate, models.ScopeOwn, "更新供应商"},
		{"supplier", models.ActionDelete, models.ScopeTeam, "删除供应商"},
		{"supplier", models.ActionApprove, models.ScopeTeam, "审批供应商"},

		// 采购订单
		{"purchase_order", models.ActionCreate, models.ScopeOwn, "创建采购订单"},
		{"purchase_order", models.ActionRead, models.ScopeOwn, "查看本人采购订单"},
		{"purchase_order", models.ActionRead, models.ScopeTeam, "查看本部门采购订单"},
		{"purchase_order", models.ActionRead, models.ScopeAll, "查看全部采购订单"},
		{"purchase_order", models.ActionUpdate, models.ScopeOwn, "更新采购订单"},
		{"purchase_order", models.ActionSubmit, models.ScopeOwn, "提交采购订单"},
		{"purchase_order", models.ActionRecall, models.ScopeOwn, "撤回采购订单"},
		{"purchase_order", models.ActionApprove, models.ScopeTeam, "审批采购订单"},
		{"purchase_order", models.ActionReject, models.ScopeTeam, "驳回采购订单"},
		{"purchase_order", models.ActionCancel, models.ScopeTeam, "作废采购订单"},
		{"purchase_order", models.ActionExport, models.ScopeTeam, "导出采购订单"},

		// 报价单
		{"quotation", models.ActionCreate, models.ScopeOwn, "创建报价单"},
		{"quotation", models.ActionRead, models.ScopeTeam, "查看报价单"},
		{"quotation", models.ActionSubmit, models.ScopeOwn, "提交报价单"},
		{"quotation", models.ActionApprove, models.ScopeTeam, "审批报价单"},

		// 预付款
		{"pre_payment", models.ActionCreate, models.ScopeOwn, "创建预付款"},
		{"pre_payment", models.ActionRead, models.ScopeTeam, "查看预付款"},
		{"pre_payment", models.ActionSubmit, models.ScopeOwn, "提交预付款"},
		{"pre_payment", models.ActionApprove, models.ScopeAll, "审批预付款"},

		// 用户
		{"user", models.ActionCreate, models.ScopeAll, "创建用户"},
		{"user", models.ActionRead, models.ScopeTeam, "查看用户"},
		{"user", models.ActionRead, models.ScopeAll, "查看全部用户"},
		{"user", models.ActionUpdate, models.ScopeAll, "更新用户"},
	}

	for _, d := range defaults {
		code := models.BuildPermissionCode(d.Resource, d.Action, d.Scope)

		var count int64
		db.Model(&models.Permission{}).Where("code = ?", code).Count(&count)
		if count > 0 {
			continue
		}

		permission := &models.Permission{
			Code:     code,
			Resource: d.Resource,
			Action:   d.Action,
			Scope:    d.Scope,
			Name:     d.Name,
			IsSystem: true,
		}
		if err := db.Create(permission).Error; err != nil {
			return err
		}
	}

	logger.GetLogger().Info("权限初始化完成")
	return nil
}

// createSystemRoles 创建系统角色及其权限、继承关系
func createSystemRoles(db *gorm.DB) error {
	type roleDef struct {
		Name          string
		DisplayName   string
		DisplayNameEn string
		FullAccess    bool
		// 直接权限，按 resource:action:scope 代码挂接
		PermissionCodes []string
		// 继承的父角色名
		Inherits []string
	}

	defaults := []roleDef{
		{
			Name:          models.RoleSuperAdmin,
			DisplayName:   "超级管理员",
			DisplayNameEn: "Super Administrator",
			FullAccess:    true,
		},
		{
			Name:          models.RolePurchaseStaff,
			DisplayName:   "采购专员",
			DisplayNameEn: "Purchase Staff",
			PermissionCodes: []string{
				"supplier:create:own",
				"supplier:read:team",
				"supplier:update:own",
				"purchase_order:create:own",
				"purchase_order:read:own",
				"purchase_order:update:own",
				"purchase_order:submit:own",
				"purchase_order:recall:own",
				"quotation:create:own",
				"quotation:read:team",
				"quotation:submit:own",
				"pre_payment:create:own",
				"pre_payment:read:team",
				"pre_payment:submit:own",
			},
		},
		{
			Name:          models.RolePurchaseManager,
			DisplayName:   "采购经理",
			DisplayNameEn: "Purchase Manager",
			PermissionCodes: []string{
				"supplier:approve:team",
				"supplier:delete:team",
				"purchase_order:read:team",
				"purchase_order:approve:team",
				"purchase_order:reject:team",
				"purchase_order:cancel:team",
				"purchase_order:export:team",
				"quotation:approve:team",
				"user:read:team",
			},
			Inherits: []string{models.RolePurchaseStaff},
		},
		{
			Name:          models.RoleFinanceManager,
			DisplayName:   "财务经理",
			DisplayNameEn: "Finance Manager",
			PermissionCodes: []string{
				"purchase_order:read:all",
				"purchase_order:approve:team",
				"pre_payment:read:team",
				"pre_payment:approve:all",
				"user:read:team",
			},
		},
		{
			Name:          models.RoleGeneralManager,
			DisplayName:   "总经理",
			DisplayNameEn: "General Manager",
			PermissionCodes: []string{
				"supplier:read:all",
				"purchase_order:read:all",
				"purchase_order:approve:team",
				"pre_payment:approve:all",
				"user:read:all",
			},
			Inherits: []string{models.RoleFinanceManager},
		},
	}

	for _, d := range defaults {
		var count int64
		db.Model(&models.Role{}).Where("name = ?", d.Name).Count(&count)
		if count > 0 {
			continue
		}

		role := &models.Role{
			Name:          d.Name,
			DisplayName:   d.DisplayName,
			DisplayNameEn: d.DisplayNameEn,
			IsSystem:      true,
			FullAccess:    d.FullAccess,
		}
		if err := db.Create(role).Error; err != nil {
			return err
		}

		for _, code := range d.PermissionCodes {
			var permission models.Permission
			if err := db.Where("code = ?", code).First(&permission).Error; err != nil {
				return fmt.Errorf("系统角色 %s 引用了不存在的权限 %s", d.Name, code)
			}
			if err := db.Create(&models.RolePermission{
				RoleID:       role.ID,
				PermissionID: permission.ID,
			}).Error; err != nil {
				return err
			}
		}

		for _, parentName := range d.Inherits {
			var parent models.Role
			if err := db.Where("name = ?", parentName).First(&parent).Error; err != nil {
				return fmt.Errorf("系统角色 %s 引用了不存在的父角色 %s", d.Name, parentName)
			}
			if err := db.Create(&models.RoleInherit{
				RoleID:       role.ID,
				ParentRoleID: parent.ID,
			}).Error; err != nil {
				return err
			}
		}
	}

	logger.GetLogger().Info("系统角色初始化完成")
	return nil
}

// createDefaultAdmin 创建默认管理员用户
func createDefaultAdmin(db *gorm.DB) error {
	var count int64
	db.Model(&models.User{}).Where("username = ?", "admin").Count(&count)
	if count > 0 {
		logger.GetLogger().Info("管理员用户已存在，跳过创建")
		return nil
	}

	user := &models.User{
		Username:   "admin",
		Email:      "admin@example.com",
		Name:       "系统管理员",
		Department: "管理部",
		Status:     models.UserStatusActive,
		IsAdmin:    true,
	}

	if err := user.SetPassword("Admin@123"); err != nil {
		return fmt.Errorf("设置密码失败: %v", err)
	}

	if err := db.Create(user).Error; err != nil {
		return err
	}

	// 分配超级管理员角色
	var role models.Role
	if err := db.Where("name = ?", models.RoleSuperAdmin).First(&role).Error; err == nil {
		db.Create(&models.UserRole{
			UserID:    user.ID,
			RoleID:    role.ID,
			CreatedBy: user.ID,
		})
	}

	logger.GetLogger().Infof("默认管理员创建成功 - 用户名: admin, 密码: Admin@123")
	return nil
}

// createDefaultWorkflows 创建默认审批流模板
//
// 采购订单默认模板：一级必经（采购经理），金额达到阈值时由路由规则
// 追加财务经理、总经理层级。
func createDefaultWorkflows(db *gorm.DB) error {
	var count int64
	db.Model(&models.WorkflowDefinition{}).
		Where("document_type = ? AND is_default = ?", models.DocTypePurchaseOrder, true).
		Count(&count)
	if count > 0 {
		logger.GetLogger().Info("默认采购订单审批流已存在，跳过创建")
		return nil
	}

	roleID := func(name string) (uint, error) {
		var role models.Role
		if err := db.Where("name = ?", name).First(&role).Error; err != nil {
			return 0, fmt.Errorf("角色 %s 不存在", name)
		}
		return role.ID, nil
	}

	purchaseManagerID, err := roleID(models.RolePurchaseManager)
	if err != nil {
		return err
	}
	financeManagerID, err := roleID(models.RoleFinanceManager)
	if err != nil {
		return err
	}
	generalManagerID, err := roleID(models.RoleGeneralManager)
	if err != nil {
		return err
	}

	audit := services.NewAuditService(db)
	definitionService := services.NewWorkflowDefinitionService(db, audit)

	var admin models.User
	db.Where("username = ?", "admin").First(&admin)

	input := &services.DefinitionInput{
		DocumentType: models.DocTypePurchaseOrder,
		Name:         "采购订单默认审批流",
		Description:  "一级必经，金额达到阈值时追加财务、总经理审批",
		IsActive:     true,
		IsDefault:    true,
		AllowRecall:  true,
		OnRejection:  models.RejectionReturnToSubmitter,
		Levels: []services.LevelInput{
			{
				LevelNumber:     1,
				LevelName:       "采购经理审批",
				ApprovalMode:    models.ApprovalModeAny,
				IsMandatory:     true,
				ApproverRoleIDs: []uint{purchaseManagerID},
			},
			{
				LevelNumber:     2,
				LevelName:       "财务经理审批",
				ApprovalMode:    models.ApprovalModeAny,
				IsMandatory:     false,
				ApproverRoleIDs: []uint{financeManagerID},
			},
			{
				LevelNumber:     3,
				LevelName:       "总经理审批",
				ApprovalMode:    models.ApprovalModeAny,
				IsMandatory:     false,
				ApproverRoleIDs: []uint{generalManagerID},
			},
		},
		Rules: []services.RuleInput{
			{
				Name:         "金额达到1万追加财务审批",
				ConditionKey: "amount",
				Operator:     models.OperatorGte,
				Value:        10000,
				TargetLevels: []int{2},
			},
			{
				Name:         "金额达到5万追加总经理审批",
				ConditionKey: "amount",
				Operator:     models.OperatorGte,
				Value:        50000,
				TargetLevels: []int{2, 3},
			},
		},
	}

	if _, err := definitionService.Create(admin.ID, admin.Username, input); err != nil {
		return err
	}

	logger.GetLogger().Info("默认采购订单审批流创建成功")
	return nil
}
