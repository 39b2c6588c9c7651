package services

import "epp/pkg/logger"

// ClosureCache 角色权限闭包缓存接口
//
// 生产环境由 pkg/cache.RedisCache 实现；测试和缓存关闭时传nil，
// 服务自动降级为直接查库。
type ClosureCache interface {
	GetClosure(roleID uint) ([]uint, bool)
	SetClosure(roleID uint, permissionIDs []uint) error
	InvalidateClosures() error
}

// loggerWarnCacheInvalidate 缓存失效失败的统一告警
func loggerWarnCacheInvalidate(err error) {
	logger.GetLogger().Warnf("权限缓存失效失败（等待TTL过期兜底）: %v", err)
}
