package services

import (
	"encoding/json"
	"epp/internal/condition"
	"epp/internal/models"
	"fmt"
	"sort"
	"strconv"

	"gorm.io/gorm"
)

// WorkflowDefinitionService 审批流模板服务
//
// 模板由管理员维护，运行时引擎只读。保存时的结构性错误一律fail-fast：
// 层级编号不连续、同一单据类型出现第二个默认模板、非法操作符等都直接
// 拒绝写入，不做静默纠正。
type WorkflowDefinitionService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewWorkflowDefinitionService 创建审批流模板服务
func NewWorkflowDefinitionService(db *gorm.DB, audit *AuditService) *WorkflowDefinitionService {
	return &WorkflowDefinitionService{db: db, audit: audit}
}

// ========== 输入结构 ==========

// LevelInput 审批层级输入
type LevelInput struct {
	LevelNumber     int    `json:"level_number"`
	LevelName       string `json:"level_name"`
	ApprovalMode    string `json:"approval_mode"`
	IsMandatory     bool   `json:"is_mandatory"`
	ApproverRoleIDs []uint `json:"approver_role_ids"`
	ApproverIDs     []uint `json:"approver_ids"`
}

// RuleInput 路由规则输入
type RuleInput struct {
	Name            string                 `json:"name"`
	ConditionKey    string                 `json:"condition_key"`
	Operator        string                 `json:"operator"`
	Value           interface{}            `json:"value"`
	ExtraConditions map[string]interface{} `json:"extra_conditions"`
	TargetLevels    []int                  `json:"target_levels"`
}

// DefinitionInput 审批流模板输入
type DefinitionInput struct {
	DocumentType string       `json:"document_type"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	IsActive     bool         `json:"is_active"`
	IsDefault    bool         `json:"is_default"`
	AllowRecall  bool         `json:"allow_recall"`
	OnRejection  string       `json:"on_rejection"`
	Levels       []LevelInput `json:"levels"`
	Rules        []RuleInput  `json:"rules"`
}

// ========== 基础CRUD方法 ==========

// Create 创建审批流模板
func (s *WorkflowDefinitionService) Create(operatorID uint, operatorName string, input *DefinitionInput) (*models.WorkflowDefinition, error) {
	if err := s.Validate(input, 0); err != nil {
		return nil, err
	}

	definition := &models.WorkflowDefinition{
		DocumentType: input.DocumentType,
		Name:         input.Name,
		Description:  input.Description,
		IsActive:     input.IsActive,
		IsDefault:    input.IsDefault,
		AllowRecall:  input.AllowRecall,
		OnRejection:  input.OnRejection,
		CreatedBy:    operatorID,
		UpdatedBy:    operatorID,
	}
	if definition.OnRejection == "" {
		definition.OnRejection = models.RejectionReturnToSubmitter
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(definition).Error; err != nil {
			return err
		}
		return s.saveLevelsAndRules(tx, definition.ID, input)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(operatorID, operatorName, models.AuditEntityWorkflowDefinition,
		strconv.FormatUint(uint64(definition.ID), 10), "create", input)

	return s.GetByID(definition.ID)
}

// Update 更新审批流模板（全量替换层级与规则）
func (s *WorkflowDefinitionService) Update(operatorID uint, operatorName string, id uint, input *DefinitionInput) (*models.WorkflowDefinition, error) {
	var definition models.WorkflowDefinition
	if err := s.db.First(&definition, id).Error; err != nil {
		return nil, err
	}

	if err := s.Validate(input, id); err != nil {
		return nil, err
	}

	definition.DocumentType = input.DocumentType
	definition.Name = input.Name
	definition.Description = input.Description
	definition.IsActive = input.IsActive
	definition.IsDefault = input.IsDefault
	definition.AllowRecall = input.AllowRecall
	definition.OnRejection = input.OnRejection
	definition.UpdatedBy = operatorID
	if definition.OnRejection == "" {
		definition.OnRejection = models.RejectionReturnToSubmitter
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&definition).Error; err != nil {
			return err
		}
		// 删除旧层级与规则后重建
		var oldLevels []models.ApprovalLevel
		if err := tx.Where("definition_id = ?", id).Find(&oldLevels).Error; err != nil {
			return err
		}
		for i := range oldLevels {
			if err := tx.Model(&oldLevels[i]).Association("ApproverRoles").Clear(); err != nil {
				return err
			}
		}
		if err := tx.Where("definition_id = ?", id).Delete(&models.ApprovalLevel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("definition_id = ?", id).Delete(&models.RoutingRule{}).Error; err != nil {
			return err
		}
		return s.saveLevelsAndRules(tx, id, input)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(operatorID, operatorName, models.AuditEntityWorkflowDefinition,
		strconv.FormatUint(uint64(id), 10), "update", input)

	return s.GetByID(id)
}

// saveLevelsAndRules 写入层级与规则
func (s *WorkflowDefinitionService) saveLevelsAndRules(tx *gorm.DB, definitionID uint, input *DefinitionInput) error {
	for _, levelInput := range input.Levels {
		level := models.ApprovalLevel{
			DefinitionID: definitionID,
			LevelNumber:  levelInput.LevelNumber,
			LevelName:    levelInput.LevelName,
			ApprovalMode: levelInput.ApprovalMode,
			IsMandatory:  levelInput.IsMandatory,
		}
		if level.ApprovalMode == "" {
			level.ApprovalMode = models.ApprovalModeAny
		}
		if len(levelInput.ApproverIDs) > 0 {
			data, err := json.Marshal(levelInput.ApproverIDs)
			if err != nil {
				return fmt.Errorf("静态审批人序列化失败: %v", err)
			}
			level.ApproverIDs = data
		}
		if err := tx.Create(&level).Error; err != nil {
			return err
		}
		if len(levelInput.ApproverRoleIDs) > 0 {
			var roles []models.Role
			if err := tx.Where("id IN ? AND removed = ?", levelInput.ApproverRoleIDs, false).Find(&roles).Error; err != nil {
				return err
			}
			if len(roles) != len(levelInput.ApproverRoleIDs) {
				return fmt.Errorf("层级%d存在无效的审批角色", levelInput.LevelNumber)
			}
			if err := tx.Model(&level).Association("ApproverRoles").Replace(roles); err != nil {
				return err
			}
		}
	}

	for _, ruleInput := range input.Rules {
		valueJSON, err := json.Marshal(ruleInput.Value)
		if err != nil {
			return fmt.Errorf("规则比较值序列化失败: %v", err)
		}
		targetJSON, err := json.Marshal(ruleInput.TargetLevels)
		if err != nil {
			return fmt.Errorf("规则目标层级序列化失败: %v", err)
		}
		rule := models.RoutingRule{
			DefinitionID: definitionID,
			Name:         ruleInput.Name,
			ConditionKey: ruleInput.ConditionKey,
			Operator:     ruleInput.Operator,
			Value:        valueJSON,
			TargetLevels: targetJSON,
		}
		if ruleInput.ExtraConditions != nil {
			extraJSON, err := json.Marshal(ruleInput.ExtraConditions)
			if err != nil {
				return fmt.Errorf("规则附加条件序列化失败: %v", err)
			}
			rule.ExtraConditions = extraJSON
		}
		if err := tx.Create(&rule).Error; err != nil {
			return err
		}
	}
	return nil
}

// GetByID 根据ID获取模板（含层级与规则）
func (s *WorkflowDefinitionService) GetByID(id uint) (*models.WorkflowDefinition, error) {
	var definition models.WorkflowDefinition
	err := s.db.Preload("Levels", func(db *gorm.DB) *gorm.DB {
		return db.Order("level_number")
	}).Preload("Levels.ApproverRoles").Preload("Rules").First(&definition, id).Error
	return &definition, err
}

// GetDefaultForType 获取单据类型的默认启用模板
func (s *WorkflowDefinitionService) GetDefaultForType(documentType string) (*models.WorkflowDefinition, error) {
	var definition models.WorkflowDefinition
	err := s.db.Where("document_type = ? AND is_default = ? AND is_active = ?", documentType, true, true).
		First(&definition).Error
	if err != nil {
		return nil, err
	}
	return s.GetByID(definition.ID)
}

// GetAllWithPage 分页获取模板列表
func (s *WorkflowDefinitionService) GetAllWithPage(documentType string, page, pageSize int) ([]*models.WorkflowDefinition, int64, error) {
	var definitions []*models.WorkflowDefinition
	var total int64

	query := s.db.Model(&models.WorkflowDefinition{})
	if documentType != "" {
		query = query.Where("document_type = ?", documentType)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Preload("Levels", func(db *gorm.DB) *gorm.DB {
		return db.Order("level_number")
	}).Preload("Rules").Order("id").Offset(offset).Limit(pageSize).Find(&definitions).Error
	return definitions, total, err
}

// Delete 删除模板
func (s *WorkflowDefinitionService) Delete(operatorID uint, operatorName string, id uint) error {
	var definition models.WorkflowDefinition
	if err := s.db.First(&definition, id).Error; err != nil {
		return err
	}

	// 存在未完结实例的模板不允许删除
	var count int64
	s.db.Model(&models.WorkflowInstance{}).
		Where("definition_id = ? AND status = ?", id, models.InstanceStatusPending).Count(&count)
	if count > 0 {
		return fmt.Errorf("存在进行中的审批实例，不允许删除")
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("definition_id = ?", id).Delete(&models.RoutingRule{}).Error; err != nil {
			return err
		}
		if err := tx.Where("definition_id = ?", id).Delete(&models.ApprovalLevel{}).Error; err != nil {
			return err
		}
		return tx.Delete(&definition).Error
	})
	if err != nil {
		return err
	}

	s.audit.Record(operatorID, operatorName, models.AuditEntityWorkflowDefinition,
		strconv.FormatUint(uint64(id), 10), "delete", nil)
	return nil
}

// ========== 校验 ==========

// Validate 校验模板输入；excludeID用于更新时排除自身的默认模板检查
func (s *WorkflowDefinitionService) Validate(input *DefinitionInput, excludeID uint) error {
	if !models.IsValidDocumentType(input.DocumentType) {
		return fmt.Errorf("不支持的单据类型: %s", input.DocumentType)
	}
	if input.Name == "" {
		return fmt.Errorf("模板名称不能为空")
	}
	if len(input.Levels) == 0 {
		return fmt.Errorf("至少需要一个审批层级")
	}

	// 层级编号必须从1开始连续
	numbers := make([]int, 0, len(input.Levels))
	for _, level := range input.Levels {
		numbers = append(numbers, level.LevelNumber)
		if level.ApprovalMode != "" &&
			level.ApprovalMode != models.ApprovalModeAny &&
			level.ApprovalMode != models.ApprovalModeAll {
			return fmt.Errorf("层级%d的审批模式只能是any或all", level.LevelNumber)
		}
		if len(level.ApproverRoleIDs) == 0 && len(level.ApproverIDs) == 0 {
			return fmt.Errorf("层级%d必须配置审批角色或审批人", level.LevelNumber)
		}
	}
	sort.Ints(numbers)
	for i, number := range numbers {
		if number != i+1 {
			return fmt.Errorf("审批层级编号必须从1开始连续，当前: %v", numbers)
		}
	}

	// 路由规则校验
	levelSet := make(map[int]bool)
	for _, level := range input.Levels {
		levelSet[level.LevelNumber] = true
	}
	for _, rule := range input.Rules {
		if rule.ConditionKey == "" {
			return fmt.Errorf("路由规则的条件字段不能为空")
		}
		if !models.IsValidOperator(rule.Operator) {
			return fmt.Errorf("不支持的路由操作符: %s", rule.Operator)
		}
		if _, err := condition.FromOperator(rule.Operator, rule.Value); err != nil {
			return fmt.Errorf("路由规则无效: %v", err)
		}
		if len(rule.TargetLevels) == 0 {
			return fmt.Errorf("路由规则必须指定目标层级")
		}
		for _, target := range rule.TargetLevels {
			if !levelSet[target] {
				return fmt.Errorf("路由规则指向不存在的层级: %d", target)
			}
		}
	}

	// 同一单据类型最多一个默认模板
	if input.IsDefault {
		query := s.db.Model(&models.WorkflowDefinition{}).
			Where("document_type = ? AND is_default = ?", input.DocumentType, true)
		if excludeID > 0 {
			query = query.Where("id <> ?", excludeID)
		}
		var count int64
		query.Count(&count)
		if count > 0 {
			return fmt.Errorf("该单据类型已存在默认模板")
		}
	}

	if input.OnRejection != "" &&
		input.OnRejection != models.RejectionReturnToSubmitter &&
		input.OnRejection != models.RejectionTerminate {
		return fmt.Errorf("驳回策略只能是return_to_submitter或terminate")
	}

	return nil
}

// ========== 路由规则求值 ==========

// EvaluateRoutingRules 求值模板的路由规则，返回命中的规则列表
//
// 规则命中条件：主条件 (condition_key, operator, value) 成立，且全部
// 附加条件子句成立。任一子句求值出错视为未命中（fail-closed）。
func (s *WorkflowDefinitionService) EvaluateRoutingRules(definition *models.WorkflowDefinition, context map[string]interface{}) []models.RoutingRule {
	var matched []models.RoutingRule

	for _, rule := range definition.Rules {
		if s.ruleMatches(&rule, context) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// ruleMatches 单条规则是否命中
func (s *WorkflowDefinitionService) ruleMatches(rule *models.RoutingRule, context map[string]interface{}) bool {
	var value interface{}
	if err := json.Unmarshal(rule.Value, &value); err != nil {
		return false
	}

	expr, err := condition.FromOperator(rule.Operator, value)
	if err != nil {
		return false
	}

	contextValue, exists := context[rule.ConditionKey]
	if !exists {
		return false
	}

	ok, err := condition.Evaluate(expr, contextValue)
	if err != nil || !ok {
		return false
	}

	if len(rule.ExtraConditions) > 0 {
		var extra map[string]interface{}
		if err := json.Unmarshal(rule.ExtraConditions, &extra); err != nil {
			return false
		}
		ok, err := condition.EvaluateAll(extra, context)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// GetRequiredLevels 计算必需审批层级
//
// 必经层级 ∪ 所有命中规则的目标层级（取并集，而非首条命中即止），
// 去重后升序返回。层级顺序不影响集合结果。
func (s *WorkflowDefinitionService) GetRequiredLevels(definition *models.WorkflowDefinition, context map[string]interface{}) []int {
	levelSet := make(map[int]bool)

	for _, level := range definition.Levels {
		if level.IsMandatory {
			levelSet[level.LevelNumber] = true
		}
	}

	for _, rule := range s.EvaluateRoutingRules(definition, context) {
		var targets []int
		if err := json.Unmarshal(rule.TargetLevels, &targets); err != nil {
			continue
		}
		for _, target := range targets {
			levelSet[target] = true
		}
	}

	levels := make([]int, 0, len(levelSet))
	for level := range levelSet {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	return levels
}
