package models

import "gorm.io/datatypes"

// AuditLog 审计日志
//
// 角色/权限/审批流模板的每次变更、每个审批动作都会落一条记录。
// 核心只负责产出记录，查询与归档由外部审计服务消费。
type AuditLog struct {
	BaseModel
	RecordID   string         `gorm:"size:36;uniqueIndex;not null" json:"record_id"` // UUID
	UserID     uint           `gorm:"not null;index" json:"user_id"`
	Username   string         `gorm:"size:50" json:"username"`
	EntityType string         `gorm:"size:50;not null;index" json:"entity_type"` // role/permission/workflow_definition/workflow_instance
	EntityID   string         `gorm:"size:100;not null;index" json:"entity_id"`
	Action     string         `gorm:"size:50;not null" json:"action"` // create/update/delete/approve/reject/...
	Changes    datatypes.JSON `gorm:"type:jsonb" json:"changes"`      // 变更内容或动作元数据
}

// TableName 表名
func (AuditLog) TableName() string {
	return "audit_logs"
}

// 审计实体类型常量
const (
	AuditEntityRole               = "role"
	AuditEntityPermission         = "permission"
	AuditEntityWorkflowDefinition = "workflow_definition"
	AuditEntityWorkflowInstance   = "workflow_instance"
)
