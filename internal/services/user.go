package services

import (
	"epp/internal/models"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// UserService 用户目录服务
//
// 权限与审批核心对用户目录基本只读；这里的写操作（建号、分配角色）
// 服务于管理端，决策函数本身从不回写用户记录。
type UserService struct {
	db *gorm.DB
}

// NewUserService 创建用户服务
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// ========== 基础CRUD方法 ==========

// Create 创建用户
func (s *UserService) Create(username, email, password, name, department string) (*models.User, error) {
	if username == "" || email == "" || name == "" {
		return nil, fmt.Errorf("用户名、邮箱和姓名不能为空")
	}
	if len(password) < 6 {
		return nil, fmt.Errorf("密码长度不能少于6位")
	}

	var count int64
	s.db.Model(&models.User{}).Where("username = ? OR email = ?", username, email).Count(&count)
	if count > 0 {
		return nil, fmt.Errorf("用户名或邮箱已存在")
	}

	user := &models.User{
		Username:   username,
		Email:      email,
		Name:       name,
		Department: department,
		Status:     models.UserStatusActive,
	}
	if err := user.SetPassword(password); err != nil {
		return nil, fmt.Errorf("密码加密失败: %v", err)
	}

	err := s.db.Create(user).Error
	return user, err
}

// GetByID 根据ID获取用户（含角色）
func (s *UserService) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := s.db.Preload("Roles", "removed = ?", false).First(&user, id).Error
	return &user, err
}

// GetByUsername 根据用户名获取用户（含角色）
func (s *UserService) GetByUsername(username string) (*models.User, error) {
	var user models.User
	err := s.db.Preload("Roles", "removed = ?", false).
		Where("username = ?", username).First(&user).Error
	return &user, err
}

// GetAllWithPage 分页获取用户列表
func (s *UserService) GetAllWithPage(department string, page, pageSize int) ([]*models.User, int64, error) {
	var users []*models.User
	var total int64

	query := s.db.Model(&models.User{}).Where("removed = ?", false)
	if department != "" {
		query = query.Where("department = ?", department)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Preload("Roles", "removed = ?", false).
		Order("id").Offset(offset).Limit(pageSize).Find(&users).Error
	return users, total, err
}

// ========== 认证方法 ==========

// Authenticate 用户名密码认证，成功后更新最近登录时间
func (s *UserService) Authenticate(username, password string) (*models.User, error) {
	user, err := s.GetByUsername(username)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("用户名或密码错误")
		}
		return nil, err
	}

	if !user.IsActive() {
		return nil, fmt.Errorf("用户已被禁用")
	}
	if !user.CheckPassword(password) {
		return nil, fmt.Errorf("用户名或密码错误")
	}

	now := time.Now()
	s.db.Model(user).Update("last_login_at", now)
	user.LastLoginAt = &now

	return user, nil
}

// ========== 角色管理方法 ==========

// AssignRoles 为用户分配角色（全量替换）
func (s *UserService) AssignRoles(userID uint, roleIDs []uint) error {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return err
	}

	var roles []models.Role
	if len(roleIDs) > 0 {
		if err := s.db.Where("id IN ? AND removed = ?", roleIDs, false).Find(&roles).Error; err != nil {
			return err
		}
		if len(roles) != len(roleIDs) {
			return fmt.Errorf("存在无效的角色ID")
		}
	}

	return s.db.Model(&user).Association("Roles").Replace(roles)
}

// GetUserRoles 获取用户的角色列表
func (s *UserService) GetUserRoles(userID uint) ([]models.Role, error) {
	user, err := s.GetByID(userID)
	if err != nil {
		return nil, err
	}
	return user.Roles, nil
}

// HasRole 检查用户是否持有指定角色
func (s *UserService) HasRole(userID uint, roleName string) (bool, error) {
	roles, err := s.GetUserRoles(userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role.Name == roleName {
			return true, nil
		}
	}
	return false, nil
}
