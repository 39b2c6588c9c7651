package services

import (
	"testing"

	"epp/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 标准场景：三级模板＋三个审批人＋一个提交人
type instanceFixture struct {
	env       *testEnv
	submitter *models.User
	manager   *models.User
	finance   *models.User
	general   *models.User
}

func newInstanceFixture(t *testing.T) *instanceFixture {
	t.Helper()

	env := newTestEnv(t)
	_, managerRole := env.mustCreatePurchaseDefinition(t)

	var financeRole, generalRole models.Role
	require.NoError(t, env.db.Where("name = ?", "finance_manager").First(&financeRole).Error)
	require.NoError(t, env.db.Where("name = ?", "general_manager").First(&generalRole).Error)

	return &instanceFixture{
		env:       env,
		submitter: env.mustCreateUser(t, "zhang", "采购部"),
		manager:   env.mustCreateUser(t, "li", "采购部", managerRole.ID),
		finance:   env.mustCreateUser(t, "wang", "财务部", financeRole.ID),
		general:   env.mustCreateUser(t, "zhao", "管理部", generalRole.ID),
	}
}

func TestSubmitSmallAmountSingleLevel(t *testing.T) {
	f := newInstanceFixture(t)

	instance, err := f.env.instances.Submit(f.submitter, 0, models.DocTypePurchaseOrder, "PO-001",
		map[string]interface{}{"amount": float64(5000)})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusPending, instance.Status)
	assert.Equal(t, 1, instance.CurrentLevel)
	assert.Equal(t, []int{1}, instance.GetRequiredLevels())

	// 单层通过即整体通过
	updated, err := f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-001",
		1, f.manager, models.ApprovalActionApprove, "同意", nil)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusApproved, updated.Status)
	assert.Equal(t, 0, updated.CurrentLevel)
	assert.NotNil(t, updated.CompletedAt)
	assert.Equal(t, 100, updated.ProgressPercentage())
}

func TestSubmitDuplicateRejected(t *testing.T) {
	f := newInstanceFixture(t)

	_, err := f.env.instances.Submit(f.submitter, 0, models.DocTypePurchaseOrder, "PO-001",
		map[string]interface{}{"amount": float64(5000)})
	require.NoError(t, err)

	// 进行中重复提交拒绝
	_, err = f.env.instances.Submit(f.submitter, 0, models.DocTypePurchaseOrder, "PO-001", nil)
	assert.Error(t, err)

	// 驳回到终态后同一单据仍不允许重新提交
	_, err = f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-001",
		1, f.manager, models.ApprovalActionReject, "驳回", nil)
	require.NoError(t, err)

	_, err = f.env.instances.Submit(f.submitter, 0, models.DocTypePurchaseOrder, "PO-001", nil)
	assert.Error(t, err)
}

func TestLargeAmountWalksAllLevels(t *testing.T) {
	f := newInstanceFixture(t)

	instance, err := f.env.instances.Submit(f.submitter, 0, models.DocTypePurchaseOrder, "PO-002",
		map[string]interface{}{"amount": float64(60000)})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, instance.GetRequiredLevels())
	assert.Equal(t, 1, instance.CurrentLevel)

	// 越级审批拒绝
	_, err = f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-002",
		2, f.finance, models.ApprovalActionApprove, "", nil)
	assert.Error(t, err)

	// 非该层审批人拒绝
	_, err = f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-002",
		1, f.finance, models.ApprovalActionApprove, "", nil)
	assert.Error(t, err)

	// 逐级通过
	updated, err := f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-002",
		1, f.manager, models.ApprovalActionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.CurrentLevel)
	assert.Equal(t, models.InstanceStatusPending, updated.Status)

	updated, err = f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-002",
		2, f.finance, models.ApprovalActionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.CurrentLevel)

	updated, err = f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-002",
		3, f.general, models.ApprovalActionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusApproved, updated.Status)
	assert.ElementsMatch(t, []int{1, 2, 3}, updated.GetCompletedLevels())
	assert.Len(t, updated.Records, 3)
}

func TestRepeatApproveOnCompletedLevelIsIdempotent(t *testing.T) {
	f := newInstanceFixture(t)

	_, err := f.env.instances.Submit(f.submitter, 0, models.DocTypePurchaseOrder, "PO-009",
		map[string]interface{}{"amount": float64(20000)})
	require.NoError(t, err)

	updated, err := f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-009",
		1, f.manager, models.ApprovalActionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.CurrentLevel)

	// 已完成层级再次通过：历史照记，完成集合不重复，状态不变
	updated, err = f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-009",
		1, f.manager, models.ApprovalActionApprove, "补充意见", nil)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusPending, updated.Status)
	assert.Equal(t, 2, updated.CurrentLevel)
	assert.Equal(t, []int{1}, updated.GetCompletedLevels())
	assert.Len(t, updated.Records, 2)

	// 驳回仍只能作用于当前待审层级
	_, err = f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-009",
		1, f.manager, models.ApprovalActionReject, "", nil)
	assert.Error(t, err)

	// 未到达的层级依然拒绝
	_, err = f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-009",
		3, f.general, models.ApprovalActionApprove, "", nil)
	assert.Error(t, err)
}

func TestRejectEntersTerminalState(t *testing.T) {
	f := newInstanceFixture(t)

	_, err := f.env.instances.Submit(f.submitter, 0, models.DocTypePurchaseOrder, "PO-003",
		map[string]interface{}{"amount": float64(20000)})
	require.NoError(t, err)

	updated, err := f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-003",
		1, f.manager, models.ApprovalActionReject, "预算不足", nil)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusRejected, updated.Status)
	assert.NotNil(t, updated.CompletedAt)
	// 被驳回层级不计入完成
	assert.Empty(t, updated.GetCompletedLevels())

	// 终态后任何动作拒绝
	_, err = f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-003",
		1, f.manager, models.ApprovalActionApprove, "", nil)
	assert.ErrorIs(t, err, ErrInstanceTerminal)

	_, err = f.env.instances.Cancel(models.DocTypePurchaseOrder, "PO-003", f.submitter, "")
	assert.ErrorIs(t, err, ErrInstanceTerminal)
}

func TestAllModeNeedsEveryApprover(t *testing.T) {
	env := newTestEnv(t)

	role := env.mustCreateRole(t, "reviewers")
	u1 := env.mustCreateUser(t, "reviewer_a", "财务部", role.ID)
	u2 := env.mustCreateUser(t, "reviewer_b", "财务部", role.ID)
	submitter := env.mustCreateUser(t, "zhang", "采购部")

	_, err := env.definitions.Create(1, "tester", &DefinitionInput{
		DocumentType: models.DocTypePrePayment,
		Name:         "预付款会签",
		IsActive:     true,
		IsDefault:    true,
		Levels: []LevelInput{
			{LevelNumber: 1, LevelName: "会签", ApprovalMode: models.ApprovalModeAll, IsMandatory: true, ApproverRoleIDs: []uint{role.ID}},
		},
	})
	require.NoError(t, err)

	instance, err := env.instances.Submit(submitter, 0, models.DocTypePrePayment, "PP-001", nil)
	require.NoError(t, err)
	// all模式快照为有效审批人数
	assert.Equal(t, map[int]int{1: 2}, instance.GetLevelRequirements())

	// 第一票不足以完成层级
	updated, err := env.instances.RecordApproval(models.DocTypePrePayment, "PP-001",
		1, u1, models.ApprovalActionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusPending, updated.Status)
	assert.Equal(t, 1, updated.CurrentLevel)

	// 同一人重复通过不凑数
	updated, err = env.instances.RecordApproval(models.DocTypePrePayment, "PP-001",
		1, u1, models.ApprovalActionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusPending, updated.Status)

	// 第二个审批人通过后整体完成
	updated, err = env.instances.RecordApproval(models.DocTypePrePayment, "PP-001",
		1, u2, models.ApprovalActionApprove, "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusApproved, updated.Status)
}

func TestRecall(t *testing.T) {
	f := newInstanceFixture(t)

	_, err := f.env.instances.Submit(f.submitter, 0, models.DocTypePurchaseOrder, "PO-004",
		map[string]interface{}{"amount": float64(5000)})
	require.NoError(t, err)

	// 非提交人不能撤回
	_, err = f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-004",
		1, f.manager, models.ApprovalActionRecall, "", nil)
	assert.Error(t, err)

	// 提交人撤回：只追加历史，不改实例状态
	updated, err := f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-004",
		1, f.submitter, models.ApprovalActionRecall, "信息有误", nil)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusPending, updated.Status)
	assert.Len(t, updated.Records, 1)
	assert.Equal(t, models.ApprovalActionRecall, updated.Records[0].Action)
}

func TestCancelPendingInstance(t *testing.T) {
	f := newInstanceFixture(t)

	_, err := f.env.instances.Submit(f.submitter, 0, models.DocTypePurchaseOrder, "PO-005",
		map[string]interface{}{"amount": float64(5000)})
	require.NoError(t, err)

	cancelled, err := f.env.instances.Cancel(models.DocTypePurchaseOrder, "PO-005", f.submitter, "需求取消")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)
	assert.Equal(t, 0, cancelled.CurrentLevel)
	assert.NotNil(t, cancelled.CompletedAt)
}

func TestOptimisticLockConflict(t *testing.T) {
	f := newInstanceFixture(t)

	instance, err := f.env.instances.Submit(f.submitter, 0, models.DocTypePurchaseOrder, "PO-006",
		map[string]interface{}{"amount": float64(5000)})
	require.NoError(t, err)

	// 模拟并发：手里的实例快照已过期
	require.NoError(t, f.env.db.Model(&models.WorkflowInstance{}).
		Where("id = ?", instance.ID).Update("version", instance.Version+1).Error)

	record := &models.ApprovalRecord{
		InstanceID: instance.ID,
		Level:      1,
		ApproverID: f.manager.ID,
		Action:     models.ApprovalActionApprove,
	}
	err = f.env.instances.commitUpdate(instance, record, map[string]interface{}{})
	assert.ErrorIs(t, err, ErrInstanceConflict)

	// 冲突事务整体回滚，历史记录不落库
	var count int64
	f.env.db.Model(&models.ApprovalRecord{}).Where("instance_id = ?", instance.ID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestInstantApproveOnEmptyPath(t *testing.T) {
	env := newTestEnv(t)

	approver := env.mustCreateRole(t, "approver")
	env.mustCreateUser(t, "li", "采购部", approver.ID)
	submitter := env.mustCreateUser(t, "zhang", "采购部")

	// 层级全部非必经且规则不命中：必需层级空集即完成
	_, err := env.definitions.Create(1, "tester", &DefinitionInput{
		DocumentType: models.DocTypeQuotation,
		Name:         "报价单按需审批",
		IsActive:     true,
		IsDefault:    true,
		Levels: []LevelInput{
			{LevelNumber: 1, LevelName: "大额复核", ApproverRoleIDs: []uint{approver.ID}},
		},
		Rules: []RuleInput{
			{Name: "大额才审", ConditionKey: "amount", Operator: models.OperatorGte, Value: 100000, TargetLevels: []int{1}},
		},
	})
	require.NoError(t, err)

	instance, err := env.instances.Submit(submitter, 0, models.DocTypeQuotation, "QT-001",
		map[string]interface{}{"amount": float64(500)})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusApproved, instance.Status)
	assert.NotNil(t, instance.CompletedAt)
	assert.Equal(t, 100, instance.ProgressPercentage())
}

func TestGetPendingForUser(t *testing.T) {
	f := newInstanceFixture(t)

	_, err := f.env.instances.Submit(f.submitter, 0, models.DocTypePurchaseOrder, "PO-007",
		map[string]interface{}{"amount": float64(20000)})
	require.NoError(t, err)

	// 当前在一级，待办属于采购经理
	pending, err := f.env.instances.GetPendingForUser(f.manager.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	pending, err = f.env.instances.GetPendingForUser(f.finance.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// 推进到二级后待办转移
	_, err = f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-007",
		1, f.manager, models.ApprovalActionApprove, "", nil)
	require.NoError(t, err)

	pending, err = f.env.instances.GetPendingForUser(f.finance.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	pending, err = f.env.instances.GetPendingForUser(f.manager.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGetPendingApprovers(t *testing.T) {
	f := newInstanceFixture(t)

	instance, err := f.env.instances.Submit(f.submitter, 0, models.DocTypePurchaseOrder, "PO-008",
		map[string]interface{}{"amount": float64(5000)})
	require.NoError(t, err)

	approvers, err := f.env.instances.GetPendingApprovers(instance)
	require.NoError(t, err)
	assert.Equal(t, []uint{f.manager.ID}, approvers)

	// 完结后无待审批人
	updated, err := f.env.instances.RecordApproval(models.DocTypePurchaseOrder, "PO-008",
		1, f.manager, models.ApprovalActionApprove, "", nil)
	require.NoError(t, err)

	approvers, err = f.env.instances.GetPendingApprovers(updated)
	require.NoError(t, err)
	assert.Empty(t, approvers)
}
