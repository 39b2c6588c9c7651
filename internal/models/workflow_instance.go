package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// WorkflowInstance 审批流实例（单个单据的活动审批状态机）
//
// 状态机：pending → approved/rejected/cancelled，右侧三态为终态，
// 终态后禁止任何变更（由数据访问层的CAS条件强制，而非约定）。
// 并发审批通过version乐观锁防止丢失更新。
type WorkflowInstance struct {
	BaseModel
	DefinitionID uint   `gorm:"not null;index" json:"definition_id"`
	DocumentType string `gorm:"size:50;not null;uniqueIndex:idx_instance_doc" json:"document_type"`
	DocumentID   string `gorm:"size:100;not null;uniqueIndex:idx_instance_doc" json:"document_id"`
	Status       string `gorm:"size:20;not null;default:'pending';index" json:"status"`
	CurrentLevel int    `gorm:"default:0" json:"current_level"` // 0表示尚未开始

	RequiredLevels    JSON `gorm:"type:jsonb;not null" json:"required_levels"`  // 创建时一次性计算：必经层级∪路由命中层级
	CompletedLevels   JSON `gorm:"type:jsonb" json:"completed_levels"`          // 已完成层级（集合语义，无重复）
	LevelRequirements JSON `gorm:"type:jsonb" json:"level_requirements"`        // 层级→最少通过人数快照（any=1，all=有效审批人数）

	SubmittedBy uint       `gorm:"not null;index" json:"submitted_by"`
	SubmittedAt time.Time  `gorm:"not null" json:"submitted_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// 乐观锁版本号
	Version int `gorm:"not null;default:0" json:"version"`

	// 关联
	Definition *WorkflowDefinition `gorm:"foreignKey:DefinitionID" json:"definition,omitempty"`
	Records    []ApprovalRecord    `gorm:"foreignKey:InstanceID" json:"records,omitempty"`
}

// TableName 表名
func (WorkflowInstance) TableName() string {
	return "workflow_instances"
}

// 实例状态常量
const (
	InstanceStatusPending   = "pending"
	InstanceStatusApproved  = "approved"
	InstanceStatusRejected  = "rejected"
	InstanceStatusCancelled = "cancelled"
)

// IsComplete 是否已到终态
func (w *WorkflowInstance) IsComplete() bool {
	return w.Status == InstanceStatusApproved ||
		w.Status == InstanceStatusRejected ||
		w.Status == InstanceStatusCancelled
}

// GetRequiredLevels 解码必需层级列表
func (w *WorkflowInstance) GetRequiredLevels() []int {
	return decodeIntSlice(w.RequiredLevels)
}

// SetRequiredLevels 编码必需层级列表
func (w *WorkflowInstance) SetRequiredLevels(levels []int) {
	w.RequiredLevels = encodeIntSlice(levels)
}

// GetCompletedLevels 解码已完成层级列表
func (w *WorkflowInstance) GetCompletedLevels() []int {
	return decodeIntSlice(w.CompletedLevels)
}

// SetCompletedLevels 编码已完成层级列表
func (w *WorkflowInstance) SetCompletedLevels(levels []int) {
	w.CompletedLevels = encodeIntSlice(levels)
}

// GetLevelRequirements 解码层级最少通过人数快照
func (w *WorkflowInstance) GetLevelRequirements() map[int]int {
	result := make(map[int]int)
	if len(w.LevelRequirements) == 0 {
		return result
	}
	var raw map[string]int
	if err := json.Unmarshal(w.LevelRequirements, &raw); err != nil {
		return result
	}
	for k, v := range raw {
		level, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		result[level] = v
	}
	return result
}

// SetLevelRequirements 编码层级最少通过人数快照
func (w *WorkflowInstance) SetLevelRequirements(requirements map[int]int) {
	raw := make(map[string]int, len(requirements))
	for level, min := range requirements {
		raw[strconv.Itoa(level)] = min
	}
	data, _ := json.Marshal(raw)
	w.LevelRequirements = data
}

// HasCompletedLevel 指定层级是否已完成
func (w *WorkflowInstance) HasCompletedLevel(level int) bool {
	for _, l := range w.GetCompletedLevels() {
		if l == level {
			return true
		}
	}
	return false
}

// IsRequiredLevel 指定层级是否在必需层级内
func (w *WorkflowInstance) IsRequiredLevel(level int) bool {
	for _, l := range w.GetRequiredLevels() {
		if l == level {
			return true
		}
	}
	return false
}

// NextLevel 下一个待审批层级：最小的未完成必需层级，全部完成返回0
func (w *WorkflowInstance) NextLevel() int {
	next := 0
	for _, required := range w.GetRequiredLevels() {
		if w.HasCompletedLevel(required) {
			continue
		}
		if next == 0 || required < next {
			next = required
		}
	}
	return next
}

// ProgressPercentage 审批进度百分比；必需层级为空视为100（空集完成）
func (w *WorkflowInstance) ProgressPercentage() int {
	required := w.GetRequiredLevels()
	if len(required) == 0 {
		return 100
	}
	completed := 0
	for _, level := range required {
		if w.HasCompletedLevel(level) {
			completed++
		}
	}
	return 100 * completed / len(required)
}

// Statistics 实例派生统计
type Statistics struct {
	RequiredLevelCount  int    `json:"required_level_count"`
	CompletedLevelCount int    `json:"completed_level_count"`
	RecordCount         int    `json:"record_count"`
	ProgressPercentage  int    `json:"progress_percentage"`
	DurationSeconds     int64  `json:"duration_seconds"`
	Status              string `json:"status"`
}

// GetStatistics 计算派生统计
func (w *WorkflowInstance) GetStatistics() *Statistics {
	end := time.Now()
	if w.CompletedAt != nil {
		end = *w.CompletedAt
	}
	return &Statistics{
		RequiredLevelCount:  len(w.GetRequiredLevels()),
		CompletedLevelCount: len(w.GetCompletedLevels()),
		RecordCount:         len(w.Records),
		ProgressPercentage:  w.ProgressPercentage(),
		DurationSeconds:     int64(end.Sub(w.SubmittedAt).Seconds()),
		Status:              w.Status,
	}
}

// ApprovalRecord 审批历史记录（只追加）
type ApprovalRecord struct {
	BaseModel
	InstanceID   uint   `gorm:"not null;index" json:"instance_id"`
	Level        int    `gorm:"not null" json:"level"`
	ApproverID   uint   `gorm:"not null;index" json:"approver_id"`
	ApproverName string `gorm:"size:100" json:"approver_name"`
	Action       string `gorm:"size:30;not null" json:"action"` // approve/reject/recall/request_changes
	Comments     string `gorm:"size:500" json:"comments"`
	Metadata     JSON   `gorm:"type:jsonb" json:"metadata"`
}

// TableName 表名
func (ApprovalRecord) TableName() string {
	return "approval_records"
}

// 审批动作常量
const (
	ApprovalActionApprove        = "approve"
	ApprovalActionReject         = "reject"
	ApprovalActionRecall         = "recall"
	ApprovalActionRequestChanges = "request_changes"
)

// IsValidApprovalAction 校验审批动作
func IsValidApprovalAction(action string) bool {
	switch action {
	case ApprovalActionApprove, ApprovalActionReject,
		ApprovalActionRecall, ApprovalActionRequestChanges:
		return true
	}
	return false
}

// ========== JSON编解码辅助 ==========

func decodeIntSlice(data JSON) []int {
	if len(data) == 0 {
		return nil
	}
	var levels []int
	if err := json.Unmarshal(data, &levels); err != nil {
		return nil
	}
	return levels
}

func encodeIntSlice(levels []int) JSON {
	if levels == nil {
		levels = []int{}
	}
	data, _ := json.Marshal(levels)
	return data
}
