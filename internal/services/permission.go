package services

import (
	"encoding/json"
	"epp/internal/models"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// PermissionService 权限目录服务
type PermissionService struct {
	db    *gorm.DB
	audit *AuditService
	cache ClosureCache
}

// NewPermissionService 创建权限服务
func NewPermissionService(db *gorm.DB, audit *AuditService, cache ClosureCache) *PermissionService {
	return &PermissionService{db: db, audit: audit, cache: cache}
}

// ========== 基础CRUD方法 ==========

// Create 创建权限
func (s *PermissionService) Create(operatorID uint, operatorName, resource, action, scope, name, description string, conditions map[string]interface{}) (*models.Permission, error) {
	resource = strings.ToLower(strings.TrimSpace(resource))
	action = strings.ToLower(strings.TrimSpace(action))
	scope = strings.ToLower(strings.TrimSpace(scope))

	if err := s.ValidateCreateParams(resource, action, scope); err != nil {
		return nil, err
	}

	code := models.BuildPermissionCode(resource, action, scope)

	// 检查 (resource, action, scope) 三元组是否重复
	var count int64
	s.db.Model(&models.Permission{}).Where("code = ? AND removed = ?", code, false).Count(&count)
	if count > 0 {
		return nil, fmt.Errorf("权限已存在")
	}

	permission := &models.Permission{
		Code:        code,
		Resource:    resource,
		Action:      action,
		Scope:       scope,
		Name:        name,
		Description: description,
	}

	if conditions != nil {
		data, err := json.Marshal(conditions)
		if err != nil {
			return nil, fmt.Errorf("条件序列化失败: %v", err)
		}
		permission.Conditions = data
	}

	if err := s.db.Create(permission).Error; err != nil {
		return nil, err
	}

	s.audit.Record(operatorID, operatorName, models.AuditEntityPermission,
		strconv.FormatUint(uint64(permission.ID), 10), "create", permission)
	s.invalidateCache()

	return permission, nil
}

// GetByID 根据ID获取权限
func (s *PermissionService) GetByID(id uint) (*models.Permission, error) {
	var permission models.Permission
	err := s.db.First(&permission, id).Error
	return &permission, err
}

// GetAll 获取权限列表（可按资源过滤，含分页）
func (s *PermissionService) GetAll(resource string, page, pageSize int) ([]*models.Permission, int64, error) {
	var permissions []*models.Permission
	var total int64

	query := s.db.Model(&models.Permission{}).Where("removed = ?", false)
	if resource != "" {
		query = query.Where("resource = ?", strings.ToLower(resource))
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("resource, action, scope").Offset(offset).Limit(pageSize).Find(&permissions).Error
	return permissions, total, err
}

// Update 更新权限（名称、描述、条件；三元组身份不可变更）
func (s *PermissionService) Update(operatorID uint, operatorName string, id uint, name, description string, conditions map[string]interface{}) (*models.Permission, error) {
	var permission models.Permission
	if err := s.db.First(&permission, id).Error; err != nil {
		return nil, err
	}

	if permission.Removed {
		return nil, fmt.Errorf("权限已删除")
	}

	permission.Name = name
	permission.Description = description
	if conditions != nil {
		data, err := json.Marshal(conditions)
		if err != nil {
			return nil, fmt.Errorf("条件序列化失败: %v", err)
		}
		permission.Conditions = data
	} else {
		permission.Conditions = nil
	}

	if err := s.db.Save(&permission).Error; err != nil {
		return nil, err
	}

	s.audit.Record(operatorID, operatorName, models.AuditEntityPermission,
		strconv.FormatUint(uint64(permission.ID), 10), "update", permission)
	s.invalidateCache()

	return &permission, nil
}

// Delete 删除权限（软删除）
func (s *PermissionService) Delete(operatorID uint, operatorName string, id uint) error {
	var permission models.Permission
	if err := s.db.First(&permission, id).Error; err != nil {
		return err
	}

	// 系统权限不能删除
	if permission.IsSystem {
		return fmt.Errorf("系统权限不允许删除")
	}

	if err := s.db.Model(&permission).Update("removed", true).Error; err != nil {
		return err
	}

	s.audit.Record(operatorID, operatorName, models.AuditEntityPermission,
		strconv.FormatUint(uint64(permission.ID), 10), "delete", nil)
	s.invalidateCache()

	return nil
}

// ========== 查询方法 ==========

// FindCandidates 在给定权限ID集合内查找匹配 (resource, action) 的有效权限
//
// 匹配不区分大小写；只返回未删除的记录。供权限决策函数使用。
func (s *PermissionService) FindCandidates(permissionIDs []uint, resource, action string) ([]models.Permission, error) {
	if len(permissionIDs) == 0 {
		return nil, nil
	}

	var candidates []models.Permission
	err := s.db.Where("id IN ? AND removed = ? AND LOWER(resource) = ? AND LOWER(action) = ?",
		permissionIDs, false, strings.ToLower(resource), strings.ToLower(action)).
		Find(&candidates).Error
	return candidates, err
}

// ========== 验证方法 ==========

// ValidateCreateParams 验证创建权限的参数
func (s *PermissionService) ValidateCreateParams(resource, action, scope string) error {
	if resource == "" {
		return fmt.Errorf("资源标识不能为空")
	}
	if !models.IsValidAction(action) {
		return fmt.Errorf("不支持的操作类型: %s", action)
	}
	if !models.IsValidScope(scope) {
		return fmt.Errorf("数据范围只能是own、team或all")
	}
	return nil
}

// invalidateCache 权限变更后失效闭包缓存
func (s *PermissionService) invalidateCache() {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateClosures(); err != nil {
		// 缓存失效失败不阻断业务，TTL会兜底
		loggerWarnCacheInvalidate(err)
	}
}
