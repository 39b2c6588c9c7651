package services

import (
	"testing"

	"epp/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionCreateNormalizesCase(t *testing.T) {
	env := newTestEnv(t)

	permission, err := env.permissions.Create(1, "tester", " Supplier ", "CREATE", "Own", "创建供应商", "", nil)
	require.NoError(t, err)

	assert.Equal(t, "supplier", permission.Resource)
	assert.Equal(t, "create", permission.Action)
	assert.Equal(t, "own", permission.Scope)
	assert.Equal(t, "supplier:create:own", permission.Code)
}

func TestPermissionCreateRejectsDuplicateTuple(t *testing.T) {
	env := newTestEnv(t)

	env.mustCreatePermission(t, "supplier", models.ActionCreate, models.ScopeOwn, nil)

	// 大小写不同视为同一三元组
	_, err := env.permissions.Create(1, "tester", "SUPPLIER", "Create", "OWN", "重复", "", nil)
	assert.Error(t, err)
}

func TestPermissionCreateValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.permissions.Create(1, "tester", "", models.ActionCreate, models.ScopeOwn, "x", "", nil)
	assert.Error(t, err)

	_, err = env.permissions.Create(1, "tester", "supplier", "destroy", models.ScopeOwn, "x", "", nil)
	assert.Error(t, err)

	_, err = env.permissions.Create(1, "tester", "supplier", models.ActionCreate, "global", "x", "", nil)
	assert.Error(t, err)
}

func TestPermissionUpdateKeepsIdentity(t *testing.T) {
	env := newTestEnv(t)

	created := env.mustCreatePermission(t, "supplier", models.ActionCreate, models.ScopeOwn,
		map[string]interface{}{"amount": map[string]interface{}{"$lte": float64(10000)}})

	updated, err := env.permissions.Update(1, "tester", created.ID, "新名称", "新描述", nil)
	require.NoError(t, err)

	assert.Equal(t, "新名称", updated.Name)
	assert.Empty(t, updated.Conditions)
	// 三元组身份不可变
	assert.Equal(t, created.Code, updated.Code)
	assert.Equal(t, created.Resource, updated.Resource)
}

func TestPermissionDeleteSystemGuard(t *testing.T) {
	env := newTestEnv(t)

	permission := &models.Permission{
		Code: "user:read:all", Resource: "user", Action: "read", Scope: "all",
		Name: "查看全部用户", IsSystem: true,
	}
	require.NoError(t, env.db.Create(permission).Error)

	err := env.permissions.Delete(1, "tester", permission.ID)
	assert.Error(t, err)
}

func TestPermissionSoftDeleteExcludedFromCandidates(t *testing.T) {
	env := newTestEnv(t)

	permission := env.mustCreatePermission(t, "supplier", models.ActionRead, models.ScopeTeam, nil)
	require.NoError(t, env.permissions.Delete(1, "tester", permission.ID))

	candidates, err := env.permissions.FindCandidates([]uint{permission.ID}, "supplier", models.ActionRead)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestFindCandidatesCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)

	permission := env.mustCreatePermission(t, "supplier", models.ActionRead, models.ScopeTeam, nil)

	candidates, err := env.permissions.FindCandidates([]uint{permission.ID}, "Supplier", "READ")
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}
