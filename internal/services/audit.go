package services

import (
	"encoding/json"
	"epp/internal/models"
	"epp/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditService 审计服务
//
// 角色/权限/审批流模板的每次变更和每个审批动作都产出一条审计记录。
// 审计落库失败只记日志不阻断业务操作。
type AuditService struct {
	db *gorm.DB
}

// NewAuditService 创建审计服务
func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// Record 写入审计记录
func (s *AuditService) Record(userID uint, username, entityType, entityID, action string, changes interface{}) {
	var changesJSON []byte
	if changes != nil {
		data, err := json.Marshal(changes)
		if err != nil {
			logger.GetLogger().Errorf("审计记录序列化失败: %v", err)
		} else {
			changesJSON = data
		}
	}

	log := &models.AuditLog{
		RecordID:   uuid.New().String(),
		UserID:     userID,
		Username:   username,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Changes:    changesJSON,
	}

	if err := s.db.Create(log).Error; err != nil {
		logger.GetLogger().Errorf("审计记录写入失败: entity=%s id=%s action=%s err=%v",
			entityType, entityID, action, err)
	}
}

// GetByEntity 查询实体的审计记录（只读辅助，供外部审计服务拉取）
func (s *AuditService) GetByEntity(entityType, entityID string, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var logs []models.AuditLog
	err := s.db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id DESC").Limit(limit).Find(&logs).Error
	return logs, err
}
