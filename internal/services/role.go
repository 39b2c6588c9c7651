package services

import (
	"epp/internal/models"
	"fmt"
	"strconv"
	"unicode/utf8"

	"gorm.io/gorm"
)

// RoleService 角色服务
//
// 角色通过inherits_from边构成继承图。保存继承边时做环检测（fail-fast），
// 闭包计算时仍带访问集合兜底：继承边可能被历史数据或直接改库破坏，
// 上游校验并不可信。
type RoleService struct {
	db    *gorm.DB
	audit *AuditService
	cache ClosureCache
}

// NewRoleService 创建角色服务
func NewRoleService(db *gorm.DB, audit *AuditService, cache ClosureCache) *RoleService {
	return &RoleService{db: db, audit: audit, cache: cache}
}

// ========== 基础CRUD方法 ==========

// Create 创建角色
func (s *RoleService) Create(operatorID uint, operatorName, name, displayName, displayNameEn, description string) (*models.Role, error) {
	if err := s.ValidateCreateParams(name, displayName); err != nil {
		return nil, err
	}

	// 检查角色标识是否重复
	var count int64
	s.db.Model(&models.Role{}).Where("name = ?", name).Count(&count)
	if count > 0 {
		return nil, fmt.Errorf("角色标识已存在")
	}

	role := &models.Role{
		Name:          name,
		DisplayName:   displayName,
		DisplayNameEn: displayNameEn,
		Description:   description,
	}

	if err := s.db.Create(role).Error; err != nil {
		return nil, err
	}

	s.audit.Record(operatorID, operatorName, models.AuditEntityRole,
		strconv.FormatUint(uint64(role.ID), 10), "create", role)

	return role, nil
}

// GetByID 根据ID获取角色
func (s *RoleService) GetByID(id uint) (*models.Role, error) {
	var role models.Role
	err := s.db.Preload("Permissions").Preload("InheritsFrom").First(&role, id).Error
	return &role, err
}

// GetByName 根据角色标识获取角色（兼容历史数据中按名称引用角色的场景）
func (s *RoleService) GetByName(name string) (*models.Role, error) {
	var role models.Role
	err := s.db.Preload("Permissions").Where("name = ? AND removed = ?", name, false).First(&role).Error
	return &role, err
}

// GetAllWithPage 分页获取角色列表
func (s *RoleService) GetAllWithPage(page, pageSize int) ([]*models.Role, int64, error) {
	var roles []*models.Role
	var total int64

	query := s.db.Model(&models.Role{}).Where("removed = ?", false)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Preload("Permissions").Order("id").Offset(offset).Limit(pageSize).Find(&roles).Error
	return roles, total, err
}

// Update 更新角色
func (s *RoleService) Update(operatorID uint, operatorName string, id uint, displayName, displayNameEn, description string) (*models.Role, error) {
	var role models.Role
	if err := s.db.First(&role, id).Error; err != nil {
		return nil, err
	}

	if role.Removed {
		return nil, fmt.Errorf("角色已删除")
	}
	if !s.ValidateDisplayName(displayName) {
		return nil, fmt.Errorf("角色名称长度必须在2-50个字符之间")
	}

	role.DisplayName = displayName
	role.DisplayNameEn = displayNameEn
	role.Description = description

	if err := s.db.Save(&role).Error; err != nil {
		return nil, err
	}

	s.audit.Record(operatorID, operatorName, models.AuditEntityRole,
		strconv.FormatUint(uint64(role.ID), 10), "update", role)

	return &role, nil
}

// Delete 删除角色（软删除）
func (s *RoleService) Delete(operatorID uint, operatorName string, id uint) error {
	var role models.Role
	if err := s.db.First(&role, id).Error; err != nil {
		return err
	}

	// 系统角色不能删除
	if role.IsSystem {
		return fmt.Errorf("系统角色不允许删除")
	}

	if err := s.db.Model(&role).Update("removed", true).Error; err != nil {
		return err
	}

	s.audit.Record(operatorID, operatorName, models.AuditEntityRole,
		strconv.FormatUint(uint64(role.ID), 10), "delete", nil)
	s.invalidateCache()

	return nil
}

// ========== 权限管理方法 ==========

// AssignPermissions 为角色分配权限（全量替换）
func (s *RoleService) AssignPermissions(operatorID uint, operatorName string, roleID uint, permissionIDs []uint) error {
	var role models.Role
	if err := s.db.First(&role, roleID).Error; err != nil {
		return err
	}

	var permissions []models.Permission
	if len(permissionIDs) > 0 {
		if err := s.db.Where("id IN ? AND removed = ?", permissionIDs, false).Find(&permissions).Error; err != nil {
			return err
		}
		if len(permissions) != len(permissionIDs) {
			return fmt.Errorf("存在无效的权限ID")
		}
	}

	// 清除现有权限，重新分配
	if err := s.db.Model(&role).Association("Permissions").Replace(permissions); err != nil {
		return err
	}

	s.audit.Record(operatorID, operatorName, models.AuditEntityRole,
		strconv.FormatUint(uint64(role.ID), 10), "assign_permissions",
		map[string]interface{}{"permission_ids": permissionIDs})
	s.invalidateCache()

	return nil
}

// SetInherits 设置角色继承边（全量替换）
//
// 保存前做环检测：新边集合不能使继承图出现环，出现则整体拒绝写入。
func (s *RoleService) SetInherits(operatorID uint, operatorName string, roleID uint, parentRoleIDs []uint) error {
	var role models.Role
	if err := s.db.First(&role, roleID).Error; err != nil {
		return err
	}

	var parents []models.Role
	if len(parentRoleIDs) > 0 {
		if err := s.db.Where("id IN ? AND removed = ?", parentRoleIDs, false).Find(&parents).Error; err != nil {
			return err
		}
		if len(parents) != len(parentRoleIDs) {
			return fmt.Errorf("存在无效的角色ID")
		}
		for _, parentID := range parentRoleIDs {
			if parentID == roleID {
				return fmt.Errorf("角色不能继承自身")
			}
		}
	}

	// 环检测：从每个新父角色出发，沿现有继承边能否回到本角色
	if err := s.detectCycle(roleID, parentRoleIDs); err != nil {
		return err
	}

	if err := s.db.Model(&role).Association("InheritsFrom").Replace(parents); err != nil {
		return err
	}

	s.audit.Record(operatorID, operatorName, models.AuditEntityRole,
		strconv.FormatUint(uint64(role.ID), 10), "set_inherits",
		map[string]interface{}{"parent_role_ids": parentRoleIDs})
	s.invalidateCache()

	return nil
}

// detectCycle 检测新增继承边是否成环
func (s *RoleService) detectCycle(roleID uint, parentRoleIDs []uint) error {
	visited := make(map[uint]bool)
	queue := append([]uint{}, parentRoleIDs...)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == roleID {
			return fmt.Errorf("角色继承关系存在循环")
		}
		if visited[current] {
			continue
		}
		visited[current] = true

		var edges []models.RoleInherit
		if err := s.db.Where("role_id = ?", current).Find(&edges).Error; err != nil {
			return err
		}
		for _, edge := range edges {
			queue = append(queue, edge.ParentRoleID)
		}
	}
	return nil
}

// ========== 闭包计算 ==========

// Closure 计算角色的权限闭包
//
// 返回从角色自身权限加上沿inherits_from可达的所有角色权限的并集
// （权限ID集合，无顺序保证）。显式图遍历＋访问集合，菱形或成环的
// 继承图都能终止，每个权限只出现一次。
func (s *RoleService) Closure(roleID uint) ([]uint, error) {
	if s.cache != nil {
		if ids, ok := s.cache.GetClosure(roleID); ok {
			return ids, nil
		}
	}

	permissionSet := make(map[uint]bool)
	visited := make(map[uint]bool)
	queue := []uint{roleID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if visited[current] {
			continue
		}
		visited[current] = true

		var role models.Role
		if err := s.db.Preload("Permissions").First(&role, current).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				// 悬空的继承边，跳过
				continue
			}
			return nil, err
		}
		if role.Removed {
			continue
		}

		for _, permission := range role.Permissions {
			permissionSet[permission.ID] = true
		}

		var edges []models.RoleInherit
		if err := s.db.Where("role_id = ?", current).Find(&edges).Error; err != nil {
			return nil, err
		}
		for _, edge := range edges {
			queue = append(queue, edge.ParentRoleID)
		}
	}

	ids := make([]uint, 0, len(permissionSet))
	for id := range permissionSet {
		ids = append(ids, id)
	}

	if s.cache != nil {
		if err := s.cache.SetClosure(roleID, ids); err != nil {
			loggerWarnCacheInvalidate(err)
		}
	}

	return ids, nil
}

// ========== 验证方法 ==========

// ValidateName 验证角色标识：2-50字符，小写字母、数字、下划线
func (s *RoleService) ValidateName(name string) bool {
	if len(name) < 2 || len(name) > 50 {
		return false
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_') {
			return false
		}
	}
	return true
}

// ValidateDisplayName 验证显示名称
func (s *RoleService) ValidateDisplayName(displayName string) bool {
	runeCount := utf8.RuneCountInString(displayName)
	return runeCount >= 2 && runeCount <= 50
}

// ValidateCreateParams 验证创建角色的参数
func (s *RoleService) ValidateCreateParams(name, displayName string) error {
	if !s.ValidateName(name) {
		return fmt.Errorf("角色标识长度必须在2-50个字符之间，且只能包含小写字母、数字和下划线")
	}
	if !s.ValidateDisplayName(displayName) {
		return fmt.Errorf("角色名称长度必须在2-50个字符之间")
	}
	return nil
}

// invalidateCache 角色变更后失效闭包缓存
func (s *RoleService) invalidateCache() {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateClosures(); err != nil {
		loggerWarnCacheInvalidate(err)
	}
}
