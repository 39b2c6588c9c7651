package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User 用户模型（主体目录）
//
// 审批与权限核心只读取用户目录：角色引用、部门、上下级关系。
// 除登录簿记外不回写用户记录。
type User struct {
	BaseModel
	Username     string     `json:"username" gorm:"unique;not null;size:50;index"`
	Email        string     `json:"email" gorm:"unique;not null;size:100;index"`
	PasswordHash string     `json:"-" gorm:"not null;size:255"`
	Name         string     `json:"name" gorm:"not null;size:100"`
	Department   string     `json:"department" gorm:"size:100;index"` // 所属部门
	ManagerID    *uint      `json:"manager_id"`                       // 直属上级
	Status       string     `json:"status" gorm:"default:'active';size:20"`
	IsAdmin      bool       `json:"is_admin" gorm:"default:false"` // 平台管理员
	Removed      bool       `json:"removed" gorm:"default:false;index"`
	LastLoginAt  *time.Time `json:"last_login_at"`

	// 多对多关联
	Roles []Role `gorm:"many2many:user_roles;" json:"roles,omitempty"`
}

// TableName 表名
func (u *User) TableName() string {
	return "users"
}

// UserRole 用户角色关联表
type UserRole struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	RoleID    uint      `gorm:"not null;index" json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy uint      `json:"created_by"` // 谁分配的角色
}

// 用户状态常量
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
	UserStatusLocked   = "locked"
)

// SetPassword 设置密码 - 数据操作方法
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

// CheckPassword 验证密码 - 数据操作方法
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// IsActive 用户是否可用（激活且未删除）
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive && !u.Removed
}

// GetManager 获取直属上级（只读辅助查询）
func (u *User) GetManager(db *gorm.DB) (*User, error) {
	if u.ManagerID == nil {
		return nil, gorm.ErrRecordNotFound
	}
	var manager User
	err := db.First(&manager, *u.ManagerID).Error
	if err != nil {
		return nil, err
	}
	return &manager, nil
}

// GetReports 获取直接下属（只读辅助查询）
func (u *User) GetReports(db *gorm.DB) ([]User, error) {
	var reports []User
	err := db.Where("manager_id = ? AND removed = ?", u.ID, false).Find(&reports).Error
	return reports, err
}
