package services

import (
	"encoding/json"
	"epp/internal/condition"
	"epp/internal/models"
	"epp/pkg/logger"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// ========== 拒绝原因码 ==========

// 拒绝原因码为固定英文串，供调用方程序化判断，不做本地化
const (
	ReasonUnauthenticated       = "Unauthenticated"       // 无主体
	ReasonNoRoles               = "NoRoles"               // 主体无角色引用
	ReasonNoPermissionsAssigned = "NoPermissionsAssigned" // 角色闭包并集为空
	ReasonPermissionNotFound    = "PermissionNotFound"    // 无匹配(resource,action)的权限
	ReasonInsufficientScope     = "InsufficientScope"     // 数据范围不足
	ReasonConditionsNotMet      = "ConditionsNotMet"      // 附加条件不满足
	ReasonInsufficientRole      = "InsufficientRole"      // 角色不满足
)

// Decision 权限决策结果
type Decision struct {
	Allowed      bool                   `json:"allowed"`
	MatchedScope string                 `json:"matched_scope,omitempty"` // 命中权限的数据范围
	Conditions   map[string]interface{} `json:"conditions,omitempty"`    // 命中权限携带的条件（调用方做行级过滤用）
	ReasonCode   string                 `json:"reason_code,omitempty"`

	// 角色门拒绝时的诊断信息
	RequiredRoles []string `json:"required_roles,omitempty"`
	ActualRoles   []string `json:"actual_roles,omitempty"`
}

// AllowDecision 构造通过结果
func AllowDecision(matchedScope string, conditions map[string]interface{}) *Decision {
	return &Decision{Allowed: true, MatchedScope: matchedScope, Conditions: conditions}
}

// DenyDecision 构造拒绝结果
func DenyDecision(reasonCode string) *Decision {
	return &Decision{Allowed: false, ReasonCode: reasonCode}
}

// ========== 主体与角色引用 ==========

// RoleRefKind 角色引用的规范化形态
//
// 历史数据里主体的角色引用存在三种表示：已解析的角色对象、纯ID、
// 遗留的角色名字符串。入口处统一成带标签的变体，解析逻辑不再做
// 鸭子类型分支。
type RoleRefKind int

const (
	RoleRefByID RoleRefKind = iota
	RoleRefByName
	RoleRefResolved
)

// RoleRef 角色引用（带标签变体）
type RoleRef struct {
	Kind RoleRefKind
	ID   uint
	Name string
	Role *models.Role
}

// ParseRoleRef 从宽松的JSON值规范化角色引用
//
// 数值→按ID引用；字符串→按遗留名称引用；对象→已解析角色。
// 无法识别的形态返回false，调用方静默丢弃。
func ParseRoleRef(raw interface{}) (RoleRef, bool) {
	switch v := raw.(type) {
	case float64:
		return RoleRef{Kind: RoleRefByID, ID: uint(v)}, true
	case int:
		return RoleRef{Kind: RoleRefByID, ID: uint(v)}, true
	case uint:
		return RoleRef{Kind: RoleRefByID, ID: v}, true
	case string:
		if v == "" {
			return RoleRef{}, false
		}
		return RoleRef{Kind: RoleRefByName, Name: v}, true
	case map[string]interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return RoleRef{}, false
		}
		var role models.Role
		if err := json.Unmarshal(data, &role); err != nil || role.ID == 0 {
			return RoleRef{}, false
		}
		return RoleRef{Kind: RoleRefResolved, Role: &role}, true
	default:
		return RoleRef{}, false
	}
}

// Principal 主体描述（来自用户目录或外部协作方传入）
type Principal struct {
	ID         uint
	Username   string
	Name       string
	Department string
	RoleRefs   []RoleRef
}

// PrincipalFromUser 从用户目录记录构造主体描述
func PrincipalFromUser(user *models.User) *Principal {
	if user == nil {
		return nil
	}
	principal := &Principal{
		ID:         user.ID,
		Username:   user.Username,
		Name:       user.Name,
		Department: user.Department,
	}
	for i := range user.Roles {
		principal.RoleRefs = append(principal.RoleRefs, RoleRef{
			Kind: RoleRefResolved,
			Role: &user.Roles[i],
		})
	}
	return principal
}

// ========== 权限决策函数 ==========

// PermissionResolver 权限决策器
//
// 对输入纯函数（除目录/权限表读取外无副作用），可重复、并发调用。
// 目录或权限表读取失败按拒绝处理（fail-closed），包括条件求值错误。
type PermissionResolver struct {
	db          *gorm.DB
	roleService *RoleService
	permService *PermissionService
}

// NewPermissionResolver 创建权限决策器
func NewPermissionResolver(db *gorm.DB, roleService *RoleService, permService *PermissionService) *PermissionResolver {
	return &PermissionResolver{
		db:          db,
		roleService: roleService,
		permService: permService,
	}
}

// Resolve 权限决策：principal 能否对 resource 执行 action（要求 requiredScope 范围）
//
// requiredScope为空时默认"own"。context为上下文键值（通常是合并后的
// 请求参数），用于命中权限携带条件时的求值。
func (r *PermissionResolver) Resolve(principal *Principal, resource, action, requiredScope string, context map[string]interface{}) *Decision {
	if requiredScope == "" {
		requiredScope = models.ScopeOwn
	}

	// 1. 无主体
	if principal == nil {
		return DenyDecision(ReasonUnauthenticated)
	}

	// 2. 无角色引用
	if len(principal.RoleRefs) == 0 {
		return DenyDecision(ReasonNoRoles)
	}

	// 3. 规范化角色引用，无法解析的静默丢弃
	roles := r.resolveRoleRefs(principal.RoleRefs)

	// 4. 完全访问角色直接放行
	for _, role := range roles {
		if role.FullAccess {
			return AllowDecision(models.ScopeAll, nil)
		}
	}

	// 5. 计算所有角色闭包的并集
	grantedSet := make(map[uint]bool)
	for _, role := range roles {
		ids, err := r.roleService.Closure(role.ID)
		if err != nil {
			logger.GetLogger().Errorf("角色闭包计算失败: role=%d err=%v", role.ID, err)
			return DenyDecision(ReasonNoPermissionsAssigned)
		}
		for _, id := range ids {
			grantedSet[id] = true
		}
	}

	// 6. 并集为空
	if len(grantedSet) == 0 {
		return DenyDecision(ReasonNoPermissionsAssigned)
	}

	grantedIDs := make([]uint, 0, len(grantedSet))
	for id := range grantedSet {
		grantedIDs = append(grantedIDs, id)
	}

	// 7. 查找匹配(resource, action)的有效权限
	candidates, err := r.permService.FindCandidates(grantedIDs, resource, action)
	if err != nil {
		logger.GetLogger().Errorf("权限查询失败: resource=%s action=%s err=%v", resource, action, err)
		return DenyDecision(ReasonPermissionNotFound)
	}
	if len(candidates) == 0 {
		return DenyDecision(ReasonPermissionNotFound)
	}

	// 8. 数据范围匹配，范围宽的候选优先
	sort.Slice(candidates, func(i, j int) bool {
		return models.ScopeRank(candidates[i].Scope) > models.ScopeRank(candidates[j].Scope)
	})

	var matched *models.Permission
	for i := range candidates {
		if models.ScopeSatisfies(candidates[i].Scope, requiredScope) {
			matched = &candidates[i]
			break
		}
	}
	if matched == nil {
		return DenyDecision(ReasonInsufficientScope)
	}

	// 9. 附加条件求值（全部满足才通过；求值错误一律拒绝）
	var conditions map[string]interface{}
	if len(matched.Conditions) > 0 {
		if err := json.Unmarshal(matched.Conditions, &conditions); err != nil {
			logger.GetLogger().Errorf("权限条件解析失败: permission=%d err=%v", matched.ID, err)
			return DenyDecision(ReasonConditionsNotMet)
		}
		ok, err := condition.EvaluateAll(conditions, context)
		if err != nil {
			logger.GetLogger().Warnf("权限条件求值失败: permission=%d err=%v", matched.ID, err)
			return DenyDecision(ReasonConditionsNotMet)
		}
		if !ok {
			return DenyDecision(ReasonConditionsNotMet)
		}
	}

	// 10. 放行
	return AllowDecision(matched.Scope, conditions)
}

// resolveRoleRefs 将角色引用批量解析为有效角色对象
//
// 解析失败或指向已删除角色的引用静默丢弃。
func (r *PermissionResolver) resolveRoleRefs(refs []RoleRef) []*models.Role {
	var roles []*models.Role
	for _, ref := range refs {
		var role *models.Role
		var err error

		switch ref.Kind {
		case RoleRefResolved:
			role = ref.Role
		case RoleRefByID:
			role, err = r.roleService.GetByID(ref.ID)
		case RoleRefByName:
			role, err = r.roleService.GetByName(ref.Name)
		}

		if err != nil || role == nil || role.Removed {
			continue
		}
		roles = append(roles, role)
	}
	return roles
}

// ========== 角色门 ==========

// RoleGate 角色门：不经过权限间接层的裸角色成员检查
type RoleGate struct {
	roleService *RoleService
}

// NewRoleGate 创建角色门
func NewRoleGate(roleService *RoleService) *RoleGate {
	return &RoleGate{roleService: roleService}
}

// RequireRoles 主体角色与要求角色集是否有交集
//
// 拒绝时带上要求角色集与主体实际角色名，便于排查。
func (g *RoleGate) RequireRoles(principal *Principal, requiredRoles []string) *Decision {
	if principal == nil {
		return DenyDecision(ReasonUnauthenticated)
	}

	actualNames := g.normalizeToNames(principal.RoleRefs)

	for _, required := range requiredRoles {
		for _, actual := range actualNames {
			if strings.EqualFold(required, actual) {
				return AllowDecision("", nil)
			}
		}
	}

	decision := DenyDecision(ReasonInsufficientRole)
	decision.RequiredRoles = requiredRoles
	decision.ActualRoles = actualNames
	return decision
}

// normalizeToNames 角色引用规范化为角色名
func (g *RoleGate) normalizeToNames(refs []RoleRef) []string {
	var names []string
	for _, ref := range refs {
		switch ref.Kind {
		case RoleRefResolved:
			if ref.Role != nil && !ref.Role.Removed {
				names = append(names, ref.Role.Name)
			}
		case RoleRefByName:
			names = append(names, ref.Name)
		case RoleRefByID:
			role, err := g.roleService.GetByID(ref.ID)
			if err != nil || role.Removed {
				continue
			}
			names = append(names, role.Name)
		}
	}
	return names
}
