package services

import (
	"encoding/json"
	"epp/internal/models"
	"epp/pkg/logger"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// 实例写冲突与终态错误
var (
	// ErrInstanceConflict 乐观锁冲突：实例已被并发更新
	ErrInstanceConflict = errors.New("审批实例已被并发更新，请重试")
	// ErrInstanceTerminal 实例已到终态，禁止任何变更
	ErrInstanceTerminal = errors.New("审批已完结，不允许继续操作")
)

// ApprovalEvent 审批事件（推送给通知渠道）
type ApprovalEvent struct {
	Event        string `json:"event"` // submitted/advanced/approved/rejected/cancelled/reminder
	InstanceID   uint   `json:"instance_id"`
	DocumentType string `json:"document_type"`
	DocumentID   string `json:"document_id"`
	Level        int    `json:"level"`
}

// Notifier 审批事件通知接口（websocket推送等），可为nil
type Notifier interface {
	NotifyUsers(userIDs []uint, event *ApprovalEvent)
}

// WorkflowInstanceService 审批流实例服务
//
// 实例是核心里唯一有状态可变的资源。同一实例的并发审批（同层两个
// 审批人同时操作）通过version乐观锁串行化：UPDATE带version与status
// 条件，影响行数为0即冲突或已到终态，不做自动重试。
type WorkflowInstanceService struct {
	db                *gorm.DB
	definitionService *WorkflowDefinitionService
	router            *ApprovalRouter
	audit             *AuditService
	notifier          Notifier
}

// NewWorkflowInstanceService 创建审批流实例服务
func NewWorkflowInstanceService(db *gorm.DB, definitionService *WorkflowDefinitionService, router *ApprovalRouter, audit *AuditService, notifier Notifier) *WorkflowInstanceService {
	return &WorkflowInstanceService{
		db:                db,
		definitionService: definitionService,
		router:            router,
		audit:             audit,
		notifier:          notifier,
	}
}

// ========== 提交 ==========

// Submit 单据提交，创建审批流实例
//
// definitionID为0时取该单据类型的默认模板。必需层级与各层级最少通过
// 人数在创建时一次性计算并快照，后续模板变更不影响已创建实例。
// 同一单据已有实例（无论状态）不允许重复提交：终态实例不可复用，
// 重新送审应由单据方生成新的单据版本号。
func (s *WorkflowInstanceService) Submit(submitter *models.User, definitionID uint, documentType, documentID string, context map[string]interface{}) (*models.WorkflowInstance, error) {
	if !models.IsValidDocumentType(documentType) {
		return nil, fmt.Errorf("不支持的单据类型: %s", documentType)
	}
	if documentID == "" {
		return nil, fmt.Errorf("单据ID不能为空")
	}

	// 唯一性检查
	var count int64
	s.db.Model(&models.WorkflowInstance{}).
		Where("document_type = ? AND document_id = ?", documentType, documentID).Count(&count)
	if count > 0 {
		return nil, fmt.Errorf("该单据已提交过审批")
	}

	// 解析模板
	var definition *models.WorkflowDefinition
	var err error
	if definitionID > 0 {
		definition, err = s.definitionService.GetByID(definitionID)
	} else {
		definition, err = s.definitionService.GetDefaultForType(documentType)
	}
	if err != nil {
		return nil, fmt.Errorf("未找到可用的审批流模板: %v", err)
	}
	if !definition.IsActive {
		return nil, fmt.Errorf("审批流模板未启用")
	}
	if definition.DocumentType != documentType {
		return nil, fmt.Errorf("审批流模板与单据类型不匹配")
	}

	// 解析审批路径（必经层级∪路由命中层级，且每级有有效审批人）
	path, err := s.router.DetermineApprovalPath(definition, context)
	if err != nil {
		return nil, fmt.Errorf("审批路径解析失败: %v", err)
	}

	requiredLevels := make([]int, 0, len(path))
	levelRequirements := make(map[int]int, len(path))
	for _, level := range path {
		requiredLevels = append(requiredLevels, level.LevelNumber)
		levelRequirements[level.LevelNumber] = level.MinApprovals
	}

	instance := &models.WorkflowInstance{
		DefinitionID: definition.ID,
		DocumentType: documentType,
		DocumentID:   documentID,
		Status:       models.InstanceStatusPending,
		SubmittedBy:  submitter.ID,
		SubmittedAt:  time.Now(),
	}
	instance.SetRequiredLevels(requiredLevels)
	instance.SetCompletedLevels([]int{})
	instance.SetLevelRequirements(levelRequirements)

	if len(requiredLevels) > 0 {
		instance.CurrentLevel = requiredLevels[0]
	} else {
		// 无任何必需层级：空集完成，直接通过
		now := time.Now()
		instance.Status = models.InstanceStatusApproved
		instance.CompletedAt = &now
	}

	if err := s.db.Create(instance).Error; err != nil {
		return nil, err
	}

	s.audit.Record(submitter.ID, submitter.Username, models.AuditEntityWorkflowInstance,
		s.instanceKey(instance), "submit",
		map[string]interface{}{"required_levels": requiredLevels, "context": context})

	// 通知首层审批人
	if instance.Status == models.InstanceStatusPending {
		s.notifyLevel(instance, path, instance.CurrentLevel, "submitted")
	}

	return instance, nil
}

// ========== 审批动作 ==========

// RecordApproval 记录一次审批动作
//
// approve：历史必记；该层级通过人数达到快照下限才算完成（any模式第
// 一票即完成，all模式需全部审批人），重复通过不重复计入完成集合。
// reject：直接进入rejected终态，被驳回层级不计入完成。
// recall/request_changes：只追加历史，不改状态。
func (s *WorkflowInstanceService) RecordApproval(documentType, documentID string, level int, actor *models.User, action, comments string, metadata map[string]interface{}) (*models.WorkflowInstance, error) {
	if !models.IsValidApprovalAction(action) {
		return nil, fmt.Errorf("不支持的审批动作: %s", action)
	}

	instance, err := s.GetByKey(documentType, documentID)
	if err != nil {
		return nil, err
	}

	if instance.IsComplete() {
		return nil, ErrInstanceTerminal
	}

	definition, err := s.definitionService.GetByID(instance.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("审批流模板加载失败: %v", err)
	}

	switch action {
	case models.ApprovalActionApprove, models.ApprovalActionReject, models.ApprovalActionRequestChanges:
		// approve可重复作用于已完成层级（幂等，只追加历史）；reject与
		// request_changes只能操作当前待审层级。操作人必须在该层级的
		// 有效审批人集合内
		if level != instance.CurrentLevel {
			if action != models.ApprovalActionApprove || !instance.HasCompletedLevel(level) {
				return nil, fmt.Errorf("当前待审批层级为%d，不能操作层级%d", instance.CurrentLevel, level)
			}
		}
		ok, err := s.isApproverAtLevel(definition, level, actor.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("您不是该层级的审批人")
		}
	case models.ApprovalActionRecall:
		if !definition.AllowRecall {
			return nil, fmt.Errorf("该审批流不允许撤回")
		}
		if actor.ID != instance.SubmittedBy {
			return nil, fmt.Errorf("只有提交人可以撤回")
		}
	}

	record := &models.ApprovalRecord{
		InstanceID:   instance.ID,
		Level:        level,
		ApproverID:   actor.ID,
		ApproverName: actor.Name,
		Action:       action,
		Comments:     comments,
	}
	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err == nil {
			record.Metadata = data
		}
	}

	updates := map[string]interface{}{}
	var notifyNextLevel int

	switch action {
	case models.ApprovalActionApprove:
		completed := s.applyApprove(instance, level, actor.ID)
		updates["completed_levels"] = instance.CompletedLevels
		if completed && s.allRequiredCompleted(instance) {
			now := time.Now()
			updates["status"] = models.InstanceStatusApproved
			updates["completed_at"] = now
			updates["current_level"] = 0
		} else if completed {
			next := instance.NextLevel()
			updates["current_level"] = next
			notifyNextLevel = next
		}
	case models.ApprovalActionReject:
		now := time.Now()
		updates["status"] = models.InstanceStatusRejected
		updates["completed_at"] = now
	case models.ApprovalActionRecall, models.ApprovalActionRequestChanges:
		// 只追加历史
	}

	if err := s.commitUpdate(instance, record, updates); err != nil {
		return nil, err
	}

	s.audit.Record(actor.ID, actor.Username, models.AuditEntityWorkflowInstance,
		s.instanceKey(instance), action,
		map[string]interface{}{"level": level, "comments": comments, "metadata": metadata})

	// 事件通知
	switch {
	case action == models.ApprovalActionReject:
		s.notifySubmitter(instance, "rejected")
	case notifyNextLevel > 0:
		s.notifyLevelApprovers(instance, definition, notifyNextLevel, "advanced")
	case instance.Status == models.InstanceStatusApproved:
		s.notifySubmitter(instance, "approved")
	}

	return s.GetByKey(documentType, documentID)
}

// applyApprove 处理approve动作的层级完成判定，返回该层级是否完成
func (s *WorkflowInstanceService) applyApprove(instance *models.WorkflowInstance, level int, approverID uint) bool {
	if instance.HasCompletedLevel(level) {
		// 集合语义：已完成层级重复通过不再计入
		return false
	}

	// 统计该层级的不同通过人数（含本次）
	var distinctApprovers []uint
	s.db.Model(&models.ApprovalRecord{}).
		Where("instance_id = ? AND level = ? AND action = ?", instance.ID, level, models.ApprovalActionApprove).
		Distinct("approver_id").Pluck("approver_id", &distinctApprovers)

	count := len(distinctApprovers)
	already := false
	for _, id := range distinctApprovers {
		if id == approverID {
			already = true
			break
		}
	}
	if !already {
		count++
	}

	minRequired := 1
	if min, ok := instance.GetLevelRequirements()[level]; ok && min > 0 {
		minRequired = min
	}

	if count < minRequired {
		return false
	}

	completed := instance.GetCompletedLevels()
	completed = append(completed, level)
	instance.SetCompletedLevels(completed)

	if s.allRequiredCompleted(instance) {
		instance.Status = models.InstanceStatusApproved
	} else {
		instance.CurrentLevel = instance.NextLevel()
	}
	return true
}

// allRequiredCompleted 必需层级是否全部完成
func (s *WorkflowInstanceService) allRequiredCompleted(instance *models.WorkflowInstance) bool {
	for _, required := range instance.GetRequiredLevels() {
		if !instance.HasCompletedLevel(required) {
			return false
		}
	}
	return true
}

// commitUpdate 在一个事务内追加历史记录并CAS更新实例
//
// UPDATE条件带version与pending状态：终态实例与并发写都会导致影响
// 行数为0，整个事务回滚。终态不可变在这里强制，而不是靠约定。
func (s *WorkflowInstanceService) commitUpdate(instance *models.WorkflowInstance, record *models.ApprovalRecord, updates map[string]interface{}) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}

		updates["version"] = instance.Version + 1
		result := tx.Model(&models.WorkflowInstance{}).
			Where("id = ? AND version = ? AND status = ?",
				instance.ID, instance.Version, models.InstanceStatusPending).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrInstanceConflict
		}
		return nil
	})
}

// ========== 作废 ==========

// Cancel 作废审批实例（非recordApproval动作）
func (s *WorkflowInstanceService) Cancel(documentType, documentID string, actor *models.User, reason string) (*models.WorkflowInstance, error) {
	instance, err := s.GetByKey(documentType, documentID)
	if err != nil {
		return nil, err
	}

	if instance.IsComplete() {
		return nil, ErrInstanceTerminal
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.WorkflowInstance{}).
			Where("id = ? AND version = ? AND status = ?",
				instance.ID, instance.Version, models.InstanceStatusPending).
			Updates(map[string]interface{}{
				"status":        models.InstanceStatusCancelled,
				"completed_at":  now,
				"current_level": 0,
				"version":       instance.Version + 1,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrInstanceConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(actor.ID, actor.Username, models.AuditEntityWorkflowInstance,
		s.instanceKey(instance), "cancel", map[string]interface{}{"reason": reason})
	s.notifySubmitter(instance, "cancelled")

	return s.GetByKey(documentType, documentID)
}

// ========== 查询 ==========

// GetByKey 按 (单据类型, 单据ID) 获取实例
func (s *WorkflowInstanceService) GetByKey(documentType, documentID string) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance
	err := s.db.Preload("Records", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	}).Where("document_type = ? AND document_id = ?", documentType, documentID).
		First(&instance).Error
	return &instance, err
}

// GetPendingApprovers 获取当前待审层级的审批人ID集合
//
// 实例已完结或尚未开始（current_level=0）时返回空。
func (s *WorkflowInstanceService) GetPendingApprovers(instance *models.WorkflowInstance) ([]uint, error) {
	if instance.IsComplete() || instance.CurrentLevel == 0 {
		return nil, nil
	}

	definition, err := s.definitionService.GetByID(instance.DefinitionID)
	if err != nil {
		return nil, err
	}

	for i := range definition.Levels {
		if definition.Levels[i].LevelNumber == instance.CurrentLevel {
			return s.router.resolveLevelApprovers(&definition.Levels[i])
		}
	}
	return nil, nil
}

// GetPendingForUser 获取用户待办的审批实例列表
func (s *WorkflowInstanceService) GetPendingForUser(userID uint) ([]*models.WorkflowInstance, error) {
	var pending []*models.WorkflowInstance
	if err := s.db.Where("status = ?", models.InstanceStatusPending).Find(&pending).Error; err != nil {
		return nil, err
	}

	var result []*models.WorkflowInstance
	for _, instance := range pending {
		approvers, err := s.GetPendingApprovers(instance)
		if err != nil {
			logger.GetLogger().Warnf("待办审批人解析失败: instance=%d err=%v", instance.ID, err)
			continue
		}
		for _, approverID := range approvers {
			if approverID == userID {
				result = append(result, instance)
				break
			}
		}
	}
	return result, nil
}

// GetStalePending 获取滞留超过阈值的待审实例（提醒任务用）
func (s *WorkflowInstanceService) GetStalePending(threshold time.Duration) ([]*models.WorkflowInstance, error) {
	cutoff := time.Now().Add(-threshold)
	var stale []*models.WorkflowInstance
	err := s.db.Where("status = ? AND submitted_at < ?", models.InstanceStatusPending, cutoff).
		Find(&stale).Error
	return stale, err
}

// ========== 内部辅助 ==========

// isApproverAtLevel 操作人是否在指定层级的有效审批人集合内
func (s *WorkflowInstanceService) isApproverAtLevel(definition *models.WorkflowDefinition, level int, userID uint) (bool, error) {
	for i := range definition.Levels {
		if definition.Levels[i].LevelNumber != level {
			continue
		}
		approvers, err := s.router.resolveLevelApprovers(&definition.Levels[i])
		if err != nil {
			return false, err
		}
		for _, approverID := range approvers {
			if approverID == userID {
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

// instanceKey 审计用实例标识
func (s *WorkflowInstanceService) instanceKey(instance *models.WorkflowInstance) string {
	return instance.DocumentType + ":" + instance.DocumentID
}

// notifyLevel 通知审批路径中指定层级的审批人
func (s *WorkflowInstanceService) notifyLevel(instance *models.WorkflowInstance, path []ResolvedLevel, level int, event string) {
	if s.notifier == nil {
		return
	}
	for _, resolved := range path {
		if resolved.LevelNumber == level {
			s.notifier.NotifyUsers(resolved.ApproverIDs, &ApprovalEvent{
				Event:        event,
				InstanceID:   instance.ID,
				DocumentType: instance.DocumentType,
				DocumentID:   instance.DocumentID,
				Level:        level,
			})
			return
		}
	}
}

// notifyLevelApprovers 按模板层级配置通知审批人
func (s *WorkflowInstanceService) notifyLevelApprovers(instance *models.WorkflowInstance, definition *models.WorkflowDefinition, level int, event string) {
	if s.notifier == nil {
		return
	}
	for i := range definition.Levels {
		if definition.Levels[i].LevelNumber != level {
			continue
		}
		approvers, err := s.router.resolveLevelApprovers(&definition.Levels[i])
		if err != nil || len(approvers) == 0 {
			return
		}
		s.notifier.NotifyUsers(approvers, &ApprovalEvent{
			Event:        event,
			InstanceID:   instance.ID,
			DocumentType: instance.DocumentType,
			DocumentID:   instance.DocumentID,
			Level:        level,
		})
		return
	}
}

// notifySubmitter 通知提交人
func (s *WorkflowInstanceService) notifySubmitter(instance *models.WorkflowInstance, event string) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyUsers([]uint{instance.SubmittedBy}, &ApprovalEvent{
		Event:        event,
		InstanceID:   instance.ID,
		DocumentType: instance.DocumentType,
		DocumentID:   instance.DocumentID,
		Level:        instance.CurrentLevel,
	})
}
