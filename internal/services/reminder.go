package services

import (
	"epp/pkg/logger"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ApprovalReminderService 审批滞留提醒任务
//
// 定时扫描滞留超过阈值的待审实例，重新推送通知给当前层级审批人。
// 只读扫描＋通知，不触碰任何审批状态。
type ApprovalReminderService struct {
	instanceService *WorkflowInstanceService
	notifier        Notifier
	cronSpec        string
	staleThreshold  time.Duration
	cron            *cron.Cron
}

// NewApprovalReminderService 创建提醒任务
func NewApprovalReminderService(instanceService *WorkflowInstanceService, notifier Notifier, cronSpec string, staleThreshold time.Duration) *ApprovalReminderService {
	return &ApprovalReminderService{
		instanceService: instanceService,
		notifier:        notifier,
		cronSpec:        cronSpec,
		staleThreshold:  staleThreshold,
	}
}

// Start 启动定时任务
func (s *ApprovalReminderService) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cronSpec, s.runOnce)
	if err != nil {
		return fmt.Errorf("提醒任务注册失败: %v", err)
	}
	s.cron.Start()
	logger.GetLogger().Infof("审批提醒任务已启动: cron=%s threshold=%s", s.cronSpec, s.staleThreshold)
	return nil
}

// Stop 停止定时任务
func (s *ApprovalReminderService) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// runOnce 执行一次滞留扫描
func (s *ApprovalReminderService) runOnce() {
	stale, err := s.instanceService.GetStalePending(s.staleThreshold)
	if err != nil {
		logger.GetLogger().Errorf("滞留审批扫描失败: %v", err)
		return
	}

	for _, instance := range stale {
		approvers, err := s.instanceService.GetPendingApprovers(instance)
		if err != nil {
			logger.GetLogger().Warnf("滞留审批人解析失败: instance=%d err=%v", instance.ID, err)
			continue
		}
		if len(approvers) == 0 || s.notifier == nil {
			continue
		}
		s.notifier.NotifyUsers(approvers, &ApprovalEvent{
			Event:        "reminder",
			InstanceID:   instance.ID,
			DocumentType: instance.DocumentType,
			DocumentID:   instance.DocumentID,
			Level:        instance.CurrentLevel,
		})
	}

	if len(stale) > 0 {
		logger.GetLogger().Infof("审批提醒完成: 滞留实例数=%d", len(stale))
	}
}
