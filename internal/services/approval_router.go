package services

import (
	"encoding/json"
	"epp/internal/models"
	"epp/pkg/logger"

	"gorm.io/gorm"
)

// ApprovalRouter 审批路由器
//
// 把审批流模板＋单据上下文解析成具体的、经过校验的审批路径。
// 只读操作，可并发调用。
type ApprovalRouter struct {
	db                *gorm.DB
	definitionService *WorkflowDefinitionService
}

// NewApprovalRouter 创建审批路由器
func NewApprovalRouter(db *gorm.DB, definitionService *WorkflowDefinitionService) *ApprovalRouter {
	return &ApprovalRouter{db: db, definitionService: definitionService}
}

// ResolvedLevel 解析后的审批层级
type ResolvedLevel struct {
	LevelNumber  int    `json:"level_number"`
	LevelName    string `json:"level_name"`
	ApprovalMode string `json:"approval_mode"`
	ApproverIDs  []uint `json:"approver_ids"`  // 校验通过的审批人（在职、未删除）
	MinApprovals int    `json:"min_approvals"` // any=1；all=审批人数量
}

// DetermineApprovalPath 解析审批路径
//
// 按模板层级顺序，把每级配置的审批角色和静态审批人解析成有效用户ID
// 集合；解析结果为空的层级整级丢弃。返回存活层级的有序列表。
func (r *ApprovalRouter) DetermineApprovalPath(definition *models.WorkflowDefinition, context map[string]interface{}) ([]ResolvedLevel, error) {
	requiredLevels := r.definitionService.GetRequiredLevels(definition, context)
	requiredSet := make(map[int]bool, len(requiredLevels))
	for _, level := range requiredLevels {
		requiredSet[level] = true
	}

	var path []ResolvedLevel
	for _, level := range definition.Levels {
		if !requiredSet[level.LevelNumber] {
			continue
		}

		approverIDs, err := r.resolveLevelApprovers(&level)
		if err != nil {
			return nil, err
		}
		if len(approverIDs) == 0 {
			// 没有有效审批人的层级整级丢弃
			logger.GetLogger().Warnf("审批层级无有效审批人，已跳过: definition=%d level=%d",
				definition.ID, level.LevelNumber)
			continue
		}

		minApprovals := 1
		if level.ApprovalMode == models.ApprovalModeAll {
			minApprovals = len(approverIDs)
		}

		path = append(path, ResolvedLevel{
			LevelNumber:  level.LevelNumber,
			LevelName:    level.LevelName,
			ApprovalMode: level.ApprovalMode,
			ApproverIDs:  approverIDs,
			MinApprovals: minApprovals,
		})
	}
	return path, nil
}

// resolveLevelApprovers 解析单个层级的审批人集合
func (r *ApprovalRouter) resolveLevelApprovers(level *models.ApprovalLevel) ([]uint, error) {
	candidateSet := make(map[uint]bool)

	// 角色配置的动态审批人
	for _, role := range level.ApproverRoles {
		users, err := r.GetApproversByRole(role.Name)
		if err != nil {
			return nil, err
		}
		for _, user := range users {
			candidateSet[user.ID] = true
		}
	}

	// 静态指定的审批人
	if len(level.ApproverIDs) > 0 {
		var staticIDs []uint
		if err := json.Unmarshal(level.ApproverIDs, &staticIDs); err == nil {
			for _, id := range staticIDs {
				candidateSet[id] = true
			}
		}
	}

	if len(candidateSet) == 0 {
		return nil, nil
	}

	candidates := make([]uint, 0, len(candidateSet))
	for id := range candidateSet {
		candidates = append(candidates, id)
	}

	return r.ValidateApprovers(candidates)
}

// ValidateApprovers 过滤出存在、在职且未删除的审批人ID
func (r *ApprovalRouter) ValidateApprovers(userIDs []uint) ([]uint, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	var users []models.User
	err := r.db.Where("id IN ? AND status = ? AND removed = ?",
		userIDs, models.UserStatusActive, false).Find(&users).Error
	if err != nil {
		return nil, err
	}

	valid := make([]uint, 0, len(users))
	for _, user := range users {
		valid = append(valid, user.ID)
	}
	return valid, nil
}

// ========== 只读辅助查询 ==========

// GetApproversByRole 按角色名查询审批人（在职、未删除）
func (r *ApprovalRouter) GetApproversByRole(roleName string) ([]models.User, error) {
	var users []models.User
	err := r.db.Joins("JOIN user_roles ON user_roles.user_id = users.id").
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("roles.name = ? AND roles.removed = ? AND users.status = ? AND users.removed = ?",
			roleName, false, models.UserStatusActive, false).
		Find(&users).Error
	return users, err
}

// GetApproversByDepartment 按部门查询审批人（在职、未删除）
func (r *ApprovalRouter) GetApproversByDepartment(department string) ([]models.User, error) {
	var users []models.User
	err := r.db.Where("department = ? AND status = ? AND removed = ?",
		department, models.UserStatusActive, false).Find(&users).Error
	return users, err
}
