package models

import (
	"fmt"

	"gorm.io/datatypes"
)

// Permission 权限模型
//
// 权限的逻辑身份是 (resource, action, scope) 三元组，Code为三元组拼接，
// 通过唯一索引保证不重复。
type Permission struct {
	BaseModel
	Code        string         `gorm:"uniqueIndex;size:150;not null" json:"code"` // 权限代码，如 "supplier:create:own"
	Resource    string         `gorm:"size:50;not null;index" json:"resource"`    // 资源，如 "supplier", "purchase_order"
	Action      string         `gorm:"size:50;not null;index" json:"action"`      // 操作类型，如 "create", "approve"
	Scope       string         `gorm:"size:20;not null;default:'own'" json:"scope"` // 数据范围：own/team/all
	Name        string         `gorm:"size:100;not null" json:"name"`             // 权限名称，如 "创建供应商"
	Description string         `gorm:"size:255" json:"description"`               // 权限描述
	Conditions  datatypes.JSON `gorm:"type:jsonb" json:"conditions"`              // 附加条件（可空），如 {"amount":{"$lte":10000}}
	IsSystem    bool           `gorm:"default:false" json:"is_system"`            // 是否系统权限（不可删除）
	Removed     bool           `gorm:"default:false;index" json:"removed"`        // 软删除标记
}

// TableName 表名
func (Permission) TableName() string {
	return "permissions"
}

// 权限操作常量
const (
	ActionCreate  = "create"  // 创建
	ActionRead    = "read"    // 读取
	ActionUpdate  = "update"  // 更新
	ActionDelete  = "delete"  // 删除
	ActionApprove = "approve" // 审批通过
	ActionReject  = "reject"  // 审批驳回
	ActionExport  = "export"  // 导出
	ActionImport  = "import"  // 导入
	ActionSubmit  = "submit"  // 提交
	ActionRecall  = "recall"  // 撤回
	ActionClose   = "close"   // 关闭
	ActionCancel  = "cancel"  // 作废
)

// 数据范围常量
const (
	ScopeOwn  = "own"  // 仅本人
	ScopeTeam = "team" // 本部门
	ScopeAll  = "all"  // 全部
)

// AllActions 全部合法操作
var AllActions = []string{
	ActionCreate, ActionRead, ActionUpdate, ActionDelete,
	ActionApprove, ActionReject, ActionExport, ActionImport,
	ActionSubmit, ActionRecall, ActionClose, ActionCancel,
}

// AllScopes 全部合法数据范围
var AllScopes = []string{ScopeOwn, ScopeTeam, ScopeAll}

// IsValidAction 校验操作类型
func IsValidAction(action string) bool {
	for _, a := range AllActions {
		if a == action {
			return true
		}
	}
	return false
}

// IsValidScope 校验数据范围
func IsValidScope(scope string) bool {
	return scope == ScopeOwn || scope == ScopeTeam || scope == ScopeAll
}

// BuildPermissionCode 拼接权限代码
func BuildPermissionCode(resource, action, scope string) string {
	return fmt.Sprintf("%s:%s:%s", resource, action, scope)
}

// ScopeSatisfies 数据范围层级判断：all覆盖一切，team覆盖team/own，own仅覆盖own
func ScopeSatisfies(grantedScope, requiredScope string) bool {
	switch grantedScope {
	case ScopeAll:
		return true
	case ScopeTeam:
		return requiredScope == ScopeTeam || requiredScope == ScopeOwn
	case ScopeOwn:
		return requiredScope == ScopeOwn
	default:
		return false
	}
}

// ScopeRank 数据范围宽度（用于候选排序，越大越宽）
func ScopeRank(scope string) int {
	switch scope {
	case ScopeAll:
		return 3
	case ScopeTeam:
		return 2
	case ScopeOwn:
		return 1
	default:
		return 0
	}
}
