package models

import "time"

// WorkflowDefinition 审批流定义（模板）
//
// 由管理员配置，运行时引擎only-read。保存时校验：层级编号必须从1开始
// 连续；同一单据类型最多一个默认模板。
type WorkflowDefinition struct {
	BaseModel
	DocumentType string `gorm:"size:50;not null;index" json:"document_type"` // 单据类型：purchase_order/supplier/quotation/pre_payment
	Name         string `gorm:"size:200;not null" json:"name"`
	Description  string `gorm:"size:500" json:"description"`
	// 布尔列不设列默认值：带默认值的列gorm会在INSERT时跳过零值字段，
	// false写不进去。取值一律由服务层显式赋值。
	IsActive     bool   `gorm:"index" json:"is_active"`
	IsDefault    bool   `json:"is_default"`   // 每种单据类型最多一个默认模板
	AllowRecall  bool   `json:"allow_recall"` // 是否允许提交人撤回
	OnRejection  string `gorm:"size:50;default:'return_to_submitter'" json:"on_rejection"` // 驳回策略

	// 审计
	CreatedBy uint `json:"created_by"`
	UpdatedBy uint `json:"updated_by"`

	// 关联
	Levels []ApprovalLevel `gorm:"foreignKey:DefinitionID" json:"levels,omitempty"`
	Rules  []RoutingRule   `gorm:"foreignKey:DefinitionID" json:"rules,omitempty"`
}

// TableName 表名
func (WorkflowDefinition) TableName() string {
	return "workflow_definitions"
}

// 单据类型常量
const (
	DocTypePurchaseOrder = "purchase_order" // 采购订单
	DocTypeSupplier      = "supplier"      // 供应商
	DocTypeQuotation     = "quotation"     // 报价单
	DocTypePrePayment    = "pre_payment"   // 预付款
)

// AllDocumentTypes 全部合法单据类型
var AllDocumentTypes = []string{
	DocTypePurchaseOrder, DocTypeSupplier, DocTypeQuotation, DocTypePrePayment,
}

// IsValidDocumentType 校验单据类型
func IsValidDocumentType(documentType string) bool {
	for _, t := range AllDocumentTypes {
		if t == documentType {
			return true
		}
	}
	return false
}

// 驳回策略常量
const (
	RejectionReturnToSubmitter = "return_to_submitter" // 退回提交人
	RejectionTerminate         = "terminate"           // 直接终止
)

// ApprovalLevel 审批层级
type ApprovalLevel struct {
	BaseModel
	DefinitionID uint   `gorm:"not null;index" json:"definition_id"`
	LevelNumber  int    `gorm:"not null" json:"level_number"` // 层级编号，定义内从1连续编号
	LevelName    string `gorm:"size:100;not null" json:"level_name"`
	ApprovalMode string `gorm:"size:20;default:'any'" json:"approval_mode"` // any：任一审批人通过即完成；all：全部审批人通过才完成
	IsMandatory  bool   `json:"is_mandatory"`                             // 必经层级；非必经层级由路由规则按需启用，不设列默认值
	ApproverIDs  JSON   `gorm:"type:jsonb" json:"approver_ids"`             // 静态指定的审批人ID列表（可空）

	// 关联
	ApproverRoles []Role `gorm:"many2many:level_approver_roles;" json:"approver_roles,omitempty"`
}

// TableName 表名
func (ApprovalLevel) TableName() string {
	return "approval_levels"
}

// 审批模式常量
const (
	ApprovalModeAny = "any"
	ApprovalModeAll = "all"
)

// LevelApproverRole 层级审批角色关联表
type LevelApproverRole struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ApprovalLevelID uint      `gorm:"not null;index" json:"approval_level_id"`
	RoleID          uint      `gorm:"not null;index" json:"role_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName 表名
func (LevelApproverRole) TableName() string {
	return "level_approver_roles"
}

// RoutingRule 路由规则：单据上下文满足条件时追加目标审批层级
type RoutingRule struct {
	BaseModel
	DefinitionID    uint   `gorm:"not null;index" json:"definition_id"`
	Name            string `gorm:"size:100" json:"name"`
	ConditionKey    string `gorm:"size:50;not null" json:"condition_key"` // 上下文字段，如 "amount"
	Operator        string `gorm:"size:20;not null" json:"operator"`      // gt/gte/lt/lte/eq/ne/in/not_in
	Value           JSON   `gorm:"type:jsonb;not null" json:"value"`      // 比较值（in/not_in时为数组）
	ExtraConditions JSON   `gorm:"type:jsonb" json:"extra_conditions"`    // 附加条件子句（全部满足才算命中，可空）
	TargetLevels    JSON   `gorm:"type:jsonb;not null" json:"target_levels"` // 命中时追加的层级编号列表
}

// TableName 表名
func (RoutingRule) TableName() string {
	return "routing_rules"
}

// 路由规则操作符常量
const (
	OperatorGt    = "gt"
	OperatorGte   = "gte"
	OperatorLt    = "lt"
	OperatorLte   = "lte"
	OperatorEq    = "eq"
	OperatorNe    = "ne"
	OperatorIn    = "in"
	OperatorNotIn = "not_in"
)

// AllOperators 全部合法操作符
var AllOperators = []string{
	OperatorGt, OperatorGte, OperatorLt, OperatorLte,
	OperatorEq, OperatorNe, OperatorIn, OperatorNotIn,
}

// IsValidOperator 校验操作符
func IsValidOperator(op string) bool {
	for _, o := range AllOperators {
		if o == op {
			return true
		}
	}
	return false
}
