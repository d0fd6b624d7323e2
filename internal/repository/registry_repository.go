package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RegistryRepository 记录哪些对象已经被摄取过，用于启动时的补种去重。
type RegistryRepository interface {
	MarkProcessed(ctx context.Context, namespace, objectName string) error
	IsProcessed(ctx context.Context, namespace, objectName string) (bool, error)
	ListProcessed(ctx context.Context, namespace string) ([]string, error)
	ClearNamespace(ctx context.Context, namespace string) error
}

type redisRegistryRepository struct {
	redisClient *redis.Client
}

// NewRegistryRepository 创建一个新的 RegistryRepository 实例。
func NewRegistryRepository(redisClient *redis.Client) RegistryRepository {
	return &redisRegistryRepository{redisClient: redisClient}
}

func registryKey(namespace string) string {
	return fmt.Sprintf("ingest:processed:%s", namespace)
}

// MarkProcessed 标记对象已完成摄取。
func (r *redisRegistryRepository) MarkProcessed(ctx context.Context, namespace, objectName string) error {
	if err := r.redisClient.SAdd(ctx, registryKey(namespace), objectName).Err(); err != nil {
		return fmt.Errorf("failed to mark object processed: %w", err)
	}
	// 注册表随文档生命周期长期存在，但仍设置兜底过期避免脏数据无限堆积
	return r.redisClient.Expire(ctx, registryKey(namespace), 30*24*time.Hour).Err()
}

// IsProcessed 判断对象是否已经摄取过。
func (r *redisRegistryRepository) IsProcessed(ctx context.Context, namespace, objectName string) (bool, error) {
	ok, err := r.redisClient.SIsMember(ctx, registryKey(namespace), objectName).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("failed to check processed flag: %w", err)
	}
	return ok, nil
}

// ListProcessed 返回命名空间下所有已摄取对象名。
func (r *redisRegistryRepository) ListProcessed(ctx context.Context, namespace string) ([]string, error) {
	members, err := r.redisClient.SMembers(ctx, registryKey(namespace)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list processed objects: %w", err)
	}
	return members, nil
}

// ClearNamespace 清空命名空间的摄取记录（与向量清空操作配套）。
func (r *redisRegistryRepository) ClearNamespace(ctx context.Context, namespace string) error {
	return r.redisClient.Del(ctx, registryKey(namespace)).Err()
}
