package handlers

import (
	"errors"

	"epp/internal/middleware"
	"epp/internal/services"
	"epp/pkg/response"

	"github.com/gin-gonic/gin"
)

type SubmitInstanceRequest struct {
	DefinitionID uint                   `json:"definition_id"`
	DocumentType string                 `json:"document_type" binding:"required"`
	DocumentID   string                 `json:"document_id" binding:"required"`
	Context      map[string]interface{} `json:"context"`
}

type ApprovalActionRequest struct {
	Level    int                    `json:"level" binding:"required,min=1"`
	Action   string                 `json:"action" binding:"required"`
	Comments string                 `json:"comments"`
	Metadata map[string]interface{} `json:"metadata"`
}

type CancelInstanceRequest struct {
	Reason string `json:"reason"`
}

// WorkflowInstanceHandler 审批实例处理器
type WorkflowInstanceHandler struct {
	instanceService *services.WorkflowInstanceService
}

// NewWorkflowInstanceHandler 创建审批实例处理器
func NewWorkflowInstanceHandler(instanceService *services.WorkflowInstanceService) *WorkflowInstanceHandler {
	return &WorkflowInstanceHandler{instanceService: instanceService}
}

// Submit 提交单据进入审批流
func (h *WorkflowInstanceHandler) Submit(c *gin.Context) {
	var req SubmitInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	submitter := middleware.CurrentUser(c)
	instance, err := h.instanceService.Submit(submitter, req.DefinitionID, req.DocumentType, req.DocumentID, req.Context)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.SuccessWithMessage(c, "提交成功", instance)
}

// Act 记录审批动作（approve/reject/recall/request_changes）
func (h *WorkflowInstanceHandler) Act(c *gin.Context) {
	documentType := c.Param("document_type")
	documentID := c.Param("document_id")

	var req ApprovalActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	actor := middleware.CurrentUser(c)
	instance, err := h.instanceService.RecordApproval(documentType, documentID, req.Level, actor, req.Action, req.Comments, req.Metadata)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInstanceConflict):
			response.Conflict(c, "实例已被并发修改，请刷新后重试")
		case errors.Is(err, services.ErrInstanceTerminal):
			response.Conflict(c, "审批实例已结束，不可再操作")
		default:
			response.BadRequest(c, err.Error())
		}
		return
	}

	response.SuccessWithMessage(c, "操作成功", instance)
}

// Cancel 提交人或管理员撤销审批实例
func (h *WorkflowInstanceHandler) Cancel(c *gin.Context) {
	documentType := c.Param("document_type")
	documentID := c.Param("document_id")

	var req CancelInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	actor := middleware.CurrentUser(c)
	instance, err := h.instanceService.Cancel(documentType, documentID, actor, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInstanceConflict):
			response.Conflict(c, "实例已被并发修改，请刷新后重试")
		case errors.Is(err, services.ErrInstanceTerminal):
			response.Conflict(c, "审批实例已结束，不可再操作")
		default:
			response.BadRequest(c, err.Error())
		}
		return
	}

	response.SuccessWithMessage(c, "已撤销", instance)
}

// GetByKey 按单据维度查询审批实例（含审批记录）
func (h *WorkflowInstanceHandler) GetByKey(c *gin.Context) {
	documentType := c.Param("document_type")
	documentID := c.Param("document_id")

	instance, err := h.instanceService.GetByKey(documentType, documentID)
	if err != nil {
		response.NotFound(c, "审批实例不存在")
		return
	}

	stats := instance.GetStatistics()
	response.Success(c, gin.H{
		"instance":   instance,
		"statistics": stats,
	})
}

// GetPendingApprovers 查询当前层级待审批人
func (h *WorkflowInstanceHandler) GetPendingApprovers(c *gin.Context) {
	documentType := c.Param("document_type")
	documentID := c.Param("document_id")

	instance, err := h.instanceService.GetByKey(documentType, documentID)
	if err != nil {
		response.NotFound(c, "审批实例不存在")
		return
	}

	approverIDs, err := h.instanceService.GetPendingApprovers(instance)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"document_type": documentType,
		"document_id":   documentID,
		"current_level": instance.CurrentLevel,
		"approver_ids":  approverIDs,
	})
}

// GetPendingForMe 查询等待当前用户审批的实例
func (h *WorkflowInstanceHandler) GetPendingForMe(c *gin.Context) {
	user := middleware.CurrentUser(c)

	instances, err := h.instanceService.GetPendingForUser(user.ID)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	response.Success(c, gin.H{
		"total":     len(instances),
		"instances": instances,
	})
}
