package models

import "time"

// Role 角色模型
//
// 角色通过inherits_from边构成有向图（期望为DAG），闭包计算必须带访问
// 集合防止环导致的死循环，见 services.RoleService.Closure。
type Role struct {
	BaseModel
	Name          string `gorm:"uniqueIndex;size:50;not null" json:"name"`   // 角色标识，小写字母数字下划线，如 "purchase_manager"
	DisplayName   string `gorm:"size:100;not null" json:"display_name"`      // 中文显示名，如 "采购经理"
	DisplayNameEn string `gorm:"size:100" json:"display_name_en"`            // 英文显示名
	Description   string `gorm:"size:255" json:"description"`                // 角色描述
	IsSystem      bool   `gorm:"default:false" json:"is_system"`             // 是否系统角色（不可删除、不可改名）
	FullAccess    bool   `gorm:"default:false" json:"full_access"`           // 完全访问标记：跳过权限检查（替代魔法角色名）
	Removed       bool   `gorm:"default:false;index" json:"removed"`         // 软删除标记

	// 关联关系
	Permissions  []Permission `gorm:"many2many:role_permissions;" json:"permissions,omitempty"`
	InheritsFrom []Role       `gorm:"many2many:role_inherits;joinForeignKey:RoleID;joinReferences:ParentRoleID" json:"inherits_from,omitempty"`
}

// TableName 表名
func (Role) TableName() string {
	return "roles"
}

// 系统预定义角色常量
const (
	RoleSuperAdmin      = "super_admin"      // 超级管理员（full_access）
	RolePurchaseStaff   = "purchase_staff"   // 采购专员
	RolePurchaseManager = "purchase_manager" // 采购经理
	RoleFinanceManager  = "finance_manager"  // 财务经理
	RoleGeneralManager  = "general_manager"  // 总经理
)

// RolePermission 角色权限关联表
type RolePermission struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RoleID       uint      `gorm:"not null;index" json:"role_id"`
	PermissionID uint      `gorm:"not null;index" json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// RoleInherit 角色继承边（RoleID 继承 ParentRoleID 的权限）
type RoleInherit struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RoleID       uint      `gorm:"not null;index" json:"role_id"`
	ParentRoleID uint      `gorm:"not null;index" json:"parent_role_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName 表名
func (RoleInherit) TableName() string {
	return "role_inherits"
}
