package services

import (
	"testing"

	"epp/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB 每个测试用独立的内存库，互不串数据
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Permission{},
		&models.Role{},
		&models.RolePermission{},
		&models.RoleInherit{},
		&models.UserRole{},
		&models.WorkflowDefinition{},
		&models.ApprovalLevel{},
		&models.LevelApproverRole{},
		&models.RoutingRule{},
		&models.WorkflowInstance{},
		&models.ApprovalRecord{},
		&models.AuditLog{},
	))
	return db
}

// testEnv 组合一套完整的服务栈（缓存留空，闭包直接走库）
type testEnv struct {
	db          *gorm.DB
	audit       *AuditService
	users       *UserService
	permissions *PermissionService
	roles       *RoleService
	resolver    *PermissionResolver
	roleGate    *RoleGate
	definitions *WorkflowDefinitionService
	router      *ApprovalRouter
	instances   *WorkflowInstanceService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	audit := NewAuditService(db)
	permissions := NewPermissionService(db, audit, nil)
	roles := NewRoleService(db, audit, nil)
	definitions := NewWorkflowDefinitionService(db, audit)
	router := NewApprovalRouter(db, definitions)

	return &testEnv{
		db:          db,
		audit:       audit,
		users:       NewUserService(db),
		permissions: permissions,
		roles:       roles,
		resolver:    NewPermissionResolver(db, roles, permissions),
		roleGate:    NewRoleGate(roles),
		definitions: definitions,
		router:      router,
		instances:   NewWorkflowInstanceService(db, definitions, router, audit, nil),
	}
}

// ========== 造数辅助 ==========

func (e *testEnv) mustCreateUser(t *testing.T, username, department string, roleIDs ...uint) *models.User {
	t.Helper()

	user := &models.User{
		Username:   username,
		Email:      username + "@example.com",
		Name:       username,
		Department: department,
		Status:     models.UserStatusActive,
	}
	require.NoError(t, user.SetPassword("Test@123"))
	require.NoError(t, e.db.Create(user).Error)

	for _, roleID := range roleIDs {
		require.NoError(t, e.db.Create(&models.UserRole{UserID: user.ID, RoleID: roleID}).Error)
	}

	loaded, err := e.users.GetByID(user.ID)
	require.NoError(t, err)
	return loaded
}

func (e *testEnv) mustCreateRole(t *testing.T, name string) *models.Role {
	t.Helper()

	role, err := e.roles.Create(1, "tester", name, "角色"+name, "", "")
	require.NoError(t, err)
	return role
}

func (e *testEnv) mustCreatePermission(t *testing.T, resource, action, scope string, conditions map[string]interface{}) *models.Permission {
	t.Helper()

	permission, err := e.permissions.Create(1, "tester", resource, action, scope, resource+"权限", "", conditions)
	require.NoError(t, err)
	return permission
}

func (e *testEnv) mustGrant(t *testing.T, roleID uint, permissionIDs ...uint) {
	t.Helper()

	for _, pid := range permissionIDs {
		require.NoError(t, e.db.Create(&models.RolePermission{RoleID: roleID, PermissionID: pid}).Error)
	}
}
