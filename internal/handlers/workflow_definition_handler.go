package handlers

import (
	"strconv"

	"epp/internal/middleware"
	"epp/internal/services"
	"epp/pkg/pagination"
	"epp/pkg/response"

	"github.com/gin-gonic/gin"
)

// WorkflowDefinitionHandler 审批流模板处理器
type WorkflowDefinitionHandler struct {
	definitionService *services.WorkflowDefinitionService
	router            *services.ApprovalRouter
}

// NewWorkflowDefinitionHandler 创建审批流模板处理器
func NewWorkflowDefinitionHandler(definitionService *services.WorkflowDefinitionService, router *services.ApprovalRouter) *WorkflowDefinitionHandler {
	return &WorkflowDefinitionHandler{
		definitionService: definitionService,
		router:            router,
	}
}

// Create 创建审批流模板
func (h *WorkflowDefinitionHandler) Create(c *gin.Context) {
	var input services.DefinitionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	operator := middleware.CurrentUser(c)
	definition, err := h.definitionService.Create(operator.ID, operator.Username, &input)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.SuccessWithMessage(c, "创建成功", definition)
}

// GetByID 获取审批流模板详情
func (h *WorkflowDefinitionHandler) GetByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的模板ID")
		return
	}

	definition, err := h.definitionService.GetByID(uint(id))
	if err != nil {
		response.NotFound(c, "审批流模板不存在")
		return
	}

	response.Success(c, definition)
}

// GetAll 获取审批流模板列表
func (h *WorkflowDefinitionHandler) GetAll(c *gin.Context) {
	params := pagination.ParsePageParams(c)
	documentType := c.Query("document_type")

	definitions, total, err := h.definitionService.GetAllWithPage(documentType, params.Page, params.PageSize)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	response.SuccessWithPage(c, definitions, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Update 更新审批流模板
func (h *WorkflowDefinitionHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的模板ID")
		return
	}

	var input services.DefinitionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	operator := middleware.CurrentUser(c)
	definition, err := h.definitionService.Update(operator.ID, operator.Username, uint(id), &input)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.SuccessWithMessage(c, "更新成功", definition)
}

// Delete 删除审批流模板
func (h *WorkflowDefinitionHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的模板ID")
		return
	}

	operator := middleware.CurrentUser(c)
	if err := h.definitionService.Delete(operator.ID, operator.Username, uint(id)); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}

type PreviewPathRequest struct {
	Context map[string]interface{} `json:"context"`
}

// PreviewPath 按单据上下文预演审批路径，不落库
func (h *WorkflowDefinitionHandler) PreviewPath(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的模板ID")
		return
	}

	var req PreviewPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	definition, err := h.definitionService.GetByID(uint(id))
	if err != nil {
		response.NotFound(c, "审批流模板不存在")
		return
	}

	path, err := h.router.DetermineApprovalPath(definition, req.Context)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"definition_id": definition.ID,
		"path":          path,
	})
}
