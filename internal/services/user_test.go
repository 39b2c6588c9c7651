package services

import (
	"testing"

	"epp/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserCreateValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.users.Create("", "a@example.com", "Test@123", "张三", "采购部")
	assert.Error(t, err)

	_, err = env.users.Create("zhang", "a@example.com", "123", "张三", "采购部")
	assert.Error(t, err)

	_, err = env.users.Create("zhang", "a@example.com", "Test@123", "张三", "采购部")
	require.NoError(t, err)

	// 用户名或邮箱重复
	_, err = env.users.Create("zhang", "b@example.com", "Test@123", "李四", "采购部")
	assert.Error(t, err)
	_, err = env.users.Create("li", "a@example.com", "Test@123", "李四", "采购部")
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "zhang", "采购部")

	user, err := env.users.Authenticate("zhang", "Test@123")
	require.NoError(t, err)
	assert.NotNil(t, user.LastLoginAt)

	_, err = env.users.Authenticate("zhang", "wrong")
	assert.Error(t, err)

	_, err = env.users.Authenticate("ghost", "Test@123")
	assert.Error(t, err)

	// 锁定用户拒绝登录
	require.NoError(t, env.db.Model(&models.User{}).
		Where("username = ?", "zhang").Update("status", models.UserStatusLocked).Error)
	_, err = env.users.Authenticate("zhang", "Test@123")
	assert.Error(t, err)
}

func TestAssignRolesReplace(t *testing.T) {
	env := newTestEnv(t)

	r1 := env.mustCreateRole(t, "role_a")
	r2 := env.mustCreateRole(t, "role_b")
	user := env.mustCreateUser(t, "zhang", "采购部", r1.ID)

	require.NoError(t, env.users.AssignRoles(user.ID, []uint{r2.ID}))

	roles, err := env.users.GetUserRoles(user.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "role_b", roles[0].Name)

	has, err := env.users.HasRole(user.ID, "role_b")
	require.NoError(t, err)
	assert.True(t, has)

	// 无效角色ID整体拒绝
	err = env.users.AssignRoles(user.ID, []uint{r1.ID, 99999})
	assert.Error(t, err)
}
