package services

import (
	"testing"

	"epp/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	decision := env.resolver.Resolve(nil, "supplier", models.ActionCreate, models.ScopeOwn, nil)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonUnauthenticated, decision.ReasonCode)
}

func TestResolveNoRoles(t *testing.T) {
	env := newTestEnv(t)
	user := env.mustCreateUser(t, "zhang", "采购部")

	decision := env.resolver.Resolve(PrincipalFromUser(user), "supplier", models.ActionCreate, models.ScopeOwn, nil)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonNoRoles, decision.ReasonCode)
}

func TestResolveNoPermissionsAssigned(t *testing.T) {
	env := newTestEnv(t)

	role := env.mustCreateRole(t, "empty_role")
	user := env.mustCreateUser(t, "zhang", "采购部", role.ID)

	decision := env.resolver.Resolve(PrincipalFromUser(user), "supplier", models.ActionCreate, models.ScopeOwn, nil)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonNoPermissionsAssigned, decision.ReasonCode)
}

func TestResolvePermissionNotFound(t *testing.T) {
	env := newTestEnv(t)

	role := env.mustCreateRole(t, "staff")
	permission := env.mustCreatePermission(t, "supplier", models.ActionRead, models.ScopeTeam, nil)
	env.mustGrant(t, role.ID, permission.ID)
	user := env.mustCreateUser(t, "zhang", "采购部", role.ID)

	// 有权限但(resource,action)不匹配
	decision := env.resolver.Resolve(PrincipalFromUser(user), "supplier", models.ActionDelete, models.ScopeOwn, nil)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonPermissionNotFound, decision.ReasonCode)
}

func TestResolveScopeHierarchy(t *testing.T) {
	env := newTestEnv(t)

	role := env.mustCreateRole(t, "staff")
	permission := env.mustCreatePermission(t, "purchase_order", models.ActionRead, models.ScopeTeam, nil)
	env.mustGrant(t, role.ID, permission.ID)
	user := env.mustCreateUser(t, "zhang", "采购部", role.ID)
	principal := PrincipalFromUser(user)

	// team范围覆盖own和team要求
	decision := env.resolver.Resolve(principal, "purchase_order", models.ActionRead, models.ScopeOwn, nil)
	assert.True(t, decision.Allowed)
	assert.Equal(t, models.ScopeTeam, decision.MatchedScope)

	decision = env.resolver.Resolve(principal, "purchase_order", models.ActionRead, models.ScopeTeam, nil)
	assert.True(t, decision.Allowed)

	// 但覆盖不了all要求
	decision = env.resolver.Resolve(principal, "purchase_order", models.ActionRead, models.ScopeAll, nil)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonInsufficientScope, decision.ReasonCode)
}

func TestResolvePrefersWidestScope(t *testing.T) {
	env := newTestEnv(t)

	role := env.mustCreateRole(t, "staff")
	own := env.mustCreatePermission(t, "purchase_order", models.ActionRead, models.ScopeOwn, nil)
	all := env.mustCreatePermission(t, "purchase_order", models.ActionRead, models.ScopeAll, nil)
	env.mustGrant(t, role.ID, own.ID, all.ID)
	user := env.mustCreateUser(t, "zhang", "采购部", role.ID)

	decision := env.resolver.Resolve(PrincipalFromUser(user), "purchase_order", models.ActionRead, models.ScopeOwn, nil)
	assert.True(t, decision.Allowed)
	assert.Equal(t, models.ScopeAll, decision.MatchedScope)
}

func TestResolveConditions(t *testing.T) {
	env := newTestEnv(t)

	role := env.mustCreateRole(t, "staff")
	permission := env.mustCreatePermission(t, "supplier", models.ActionCreate, models.ScopeOwn,
		map[string]interface{}{
			"amount":   map[string]interface{}{"$lte": float64(10000)},
			"category": []interface{}{"electronics", "office"},
		})
	env.mustGrant(t, role.ID, permission.ID)
	user := env.mustCreateUser(t, "zhang", "采购部", role.ID)
	principal := PrincipalFromUser(user)

	// 条件全满足
	decision := env.resolver.Resolve(principal, "supplier", models.ActionCreate, models.ScopeOwn,
		map[string]interface{}{"amount": float64(8000), "category": "office"})
	assert.True(t, decision.Allowed)
	assert.NotNil(t, decision.Conditions)

	// 条件不满足
	decision = env.resolver.Resolve(principal, "supplier", models.ActionCreate, models.ScopeOwn,
		map[string]interface{}{"amount": float64(20000), "category": "office"})
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonConditionsNotMet, decision.ReasonCode)

	// 上下文缺键按不满足处理
	decision = env.resolver.Resolve(principal, "supplier", models.ActionCreate, models.ScopeOwn,
		map[string]interface{}{"category": "office"})
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonConditionsNotMet, decision.ReasonCode)

	// 求值错误同样拒绝（fail-closed）
	decision = env.resolver.Resolve(principal, "supplier", models.ActionCreate, models.ScopeOwn,
		map[string]interface{}{"amount": "not-a-number", "category": "office"})
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonConditionsNotMet, decision.ReasonCode)
}

func TestResolveFullAccessBypassesPermissionTable(t *testing.T) {
	env := newTestEnv(t)

	role := &models.Role{Name: "super_admin", DisplayName: "超级管理员", FullAccess: true, IsSystem: true}
	require.NoError(t, env.db.Create(role).Error)
	user := env.mustCreateUser(t, "admin", "管理部", role.ID)

	// 权限表为空也放行
	decision := env.resolver.Resolve(PrincipalFromUser(user), "anything", models.ActionDelete, models.ScopeAll, nil)
	assert.True(t, decision.Allowed)
	assert.Equal(t, models.ScopeAll, decision.MatchedScope)
}

func TestResolveDropsDanglingRoleRefs(t *testing.T) {
	env := newTestEnv(t)

	role := env.mustCreateRole(t, "staff")
	permission := env.mustCreatePermission(t, "supplier", models.ActionRead, models.ScopeTeam, nil)
	env.mustGrant(t, role.ID, permission.ID)

	// 混入按ID与按名的无效引用，均应被静默丢弃
	principal := &Principal{
		ID:       1,
		Username: "zhang",
		RoleRefs: []RoleRef{
			{Kind: RoleRefByID, ID: 99999},
			{Kind: RoleRefByName, Name: "ghost_role"},
			{Kind: RoleRefByID, ID: role.ID},
		},
	}

	decision := env.resolver.Resolve(principal, "supplier", models.ActionRead, models.ScopeOwn, nil)
	assert.True(t, decision.Allowed)
}

func TestParseRoleRefVariants(t *testing.T) {
	ref, ok := ParseRoleRef(float64(3))
	require.True(t, ok)
	assert.Equal(t, RoleRefByID, ref.Kind)
	assert.Equal(t, uint(3), ref.ID)

	ref, ok = ParseRoleRef("purchase_manager")
	require.True(t, ok)
	assert.Equal(t, RoleRefByName, ref.Kind)

	ref, ok = ParseRoleRef(map[string]interface{}{"id": float64(7), "name": "staff"})
	require.True(t, ok)
	assert.Equal(t, RoleRefResolved, ref.Kind)
	assert.Equal(t, uint(7), ref.Role.ID)

	_, ok = ParseRoleRef("")
	assert.False(t, ok)

	_, ok = ParseRoleRef(true)
	assert.False(t, ok)
}

func TestRoleGate(t *testing.T) {
	env := newTestEnv(t)

	role := env.mustCreateRole(t, "purchase_manager")
	user := env.mustCreateUser(t, "li", "采购部", role.ID)
	principal := PrincipalFromUser(user)

	decision := env.roleGate.RequireRoles(principal, []string{"purchase_manager", "general_manager"})
	assert.True(t, decision.Allowed)

	// 大小写不敏感
	decision = env.roleGate.RequireRoles(principal, []string{"Purchase_Manager"})
	assert.True(t, decision.Allowed)

	decision = env.roleGate.RequireRoles(principal, []string{"general_manager"})
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonInsufficientRole, decision.ReasonCode)
	assert.Equal(t, []string{"general_manager"}, decision.RequiredRoles)
	assert.Equal(t, []string{"purchase_manager"}, decision.ActualRoles)

	decision = env.roleGate.RequireRoles(nil, []string{"purchase_manager"})
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonUnauthenticated, decision.ReasonCode)
}
