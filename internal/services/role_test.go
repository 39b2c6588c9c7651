package services

import (
	"testing"

	"epp/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleCreateValidation(t *testing.T) {
	env := newTestEnv(t)

	// 非法标识
	_, err := env.roles.Create(1, "tester", "Bad-Name", "显示名", "", "")
	assert.Error(t, err)

	_, err = env.roles.Create(1, "tester", "a", "显示名", "", "")
	assert.Error(t, err)

	// 重名
	env.mustCreateRole(t, "staff")
	_, err = env.roles.Create(1, "tester", "staff", "显示名", "", "")
	assert.Error(t, err)
}

func TestRoleDeleteSystemGuard(t *testing.T) {
	env := newTestEnv(t)

	role := &models.Role{Name: "sys_role", DisplayName: "系统角色", IsSystem: true}
	require.NoError(t, env.db.Create(role).Error)

	err := env.roles.Delete(1, "tester", role.ID)
	assert.Error(t, err)
}

func TestSetInheritsRejectsSelf(t *testing.T) {
	env := newTestEnv(t)

	role := env.mustCreateRole(t, "staff")
	err := env.roles.SetInherits(1, "tester", role.ID, []uint{role.ID})
	assert.Error(t, err)
}

func TestSetInheritsRejectsCycle(t *testing.T) {
	env := newTestEnv(t)

	a := env.mustCreateRole(t, "role_a")
	b := env.mustCreateRole(t, "role_b")
	c := env.mustCreateRole(t, "role_c")

	// a→b→c 合法
	require.NoError(t, env.roles.SetInherits(1, "tester", a.ID, []uint{b.ID}))
	require.NoError(t, env.roles.SetInherits(1, "tester", b.ID, []uint{c.ID}))

	// c→a 闭环，整次操作拒绝
	err := env.roles.SetInherits(1, "tester", c.ID, []uint{a.ID})
	assert.Error(t, err)

	// 原有继承不受影响
	ids, err := env.roles.Closure(a.ID)
	require.NoError(t, err)
	assert.Empty(t, ids) // 尚未挂权限
}

func TestClosureDiamondDedup(t *testing.T) {
	env := newTestEnv(t)

	// 菱形继承：top ← left/right ← bottom，公共权限只出现一次
	top := env.mustCreateRole(t, "top")
	left := env.mustCreateRole(t, "left")
	right := env.mustCreateRole(t, "right")
	bottom := env.mustCreateRole(t, "bottom")

	shared := env.mustCreatePermission(t, "supplier", models.ActionRead, models.ScopeTeam, nil)
	ownPerm := env.mustCreatePermission(t, "supplier", models.ActionCreate, models.ScopeOwn, nil)

	env.mustGrant(t, top.ID, shared.ID)
	env.mustGrant(t, bottom.ID, ownPerm.ID)

	require.NoError(t, env.roles.SetInherits(1, "tester", left.ID, []uint{top.ID}))
	require.NoError(t, env.roles.SetInherits(1, "tester", right.ID, []uint{top.ID}))
	require.NoError(t, env.roles.SetInherits(1, "tester", bottom.ID, []uint{left.ID, right.ID}))

	ids, err := env.roles.Closure(bottom.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{shared.ID, ownPerm.ID}, ids)
}

func TestClosureSkipsRemovedRole(t *testing.T) {
	env := newTestEnv(t)

	parent := env.mustCreateRole(t, "parent")
	child := env.mustCreateRole(t, "child")

	permission := env.mustCreatePermission(t, "supplier", models.ActionRead, models.ScopeAll, nil)
	env.mustGrant(t, parent.ID, permission.ID)
	require.NoError(t, env.roles.SetInherits(1, "tester", child.ID, []uint{parent.ID}))

	// 父角色软删除后其权限不再计入闭包
	require.NoError(t, env.db.Model(&models.Role{}).Where("id = ?", parent.ID).Update("removed", true).Error)

	ids, err := env.roles.Closure(child.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAssignPermissionsReplacesAndChecksIDs(t *testing.T) {
	env := newTestEnv(t)

	role := env.mustCreateRole(t, "staff")
	p1 := env.mustCreatePermission(t, "supplier", models.ActionCreate, models.ScopeOwn, nil)
	p2 := env.mustCreatePermission(t, "supplier", models.ActionRead, models.ScopeTeam, nil)

	require.NoError(t, env.roles.AssignPermissions(1, "tester", role.ID, []uint{p1.ID, p2.ID}))

	// 整体替换
	require.NoError(t, env.roles.AssignPermissions(1, "tester", role.ID, []uint{p2.ID}))
	ids, err := env.roles.Closure(role.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{p2.ID}, ids)

	// 不存在的权限ID整体拒绝
	err = env.roles.AssignPermissions(1, "tester", role.ID, []uint{p1.ID, 99999})
	assert.Error(t, err)
}
