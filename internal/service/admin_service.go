package service

import (
	"context"
	"med-rag-go/internal/config"
	"med-rag-go/internal/model"
	"med-rag-go/internal/repository"
	"med-rag-go/internal/vectorstore"
	"med-rag-go/pkg/database"
	"med-rag-go/pkg/kafka"
	"med-rag-go/pkg/log"
	"med-rag-go/pkg/storage"
	"med-rag-go/pkg/tasks"
	"path"
	"strings"
)

// StorageInfoDTO 汇总一个命名空间在各存储层的占用情况。
type StorageInfoDTO struct {
	Namespace        string            `json:"namespace"`
	TotalVectors     int64             `json:"total_vectors"`
	NamespaceVectors int64             `json:"namespace_vectors"`
	StoredObjects    int               `json:"stored_objects"`
	ChunkRows        int64             `json:"chunk_rows"`
	Documents        []*model.Document `json:"documents"`
}

// AdminService 定义了运维管理相关的业务操作。
type AdminService interface {
	Health(ctx context.Context) map[string]string
	StorageInfo(ctx context.Context, namespace string) (*StorageInfoDTO, error)
	// Clear 清空命名空间在向量索引、关系库与摄取注册表中的全部数据。
	Clear(ctx context.Context, namespace string) error
	// Reprocess 为命名空间下的每个存储对象投递一个异步重处理任务，返回投递数。
	Reprocess(ctx context.Context, namespace string) (int, error)
}

type adminService struct {
	store        vectorstore.Store
	docRepo      repository.DocumentRepository
	registryRepo repository.RegistryRepository
	bucketName   string
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(store vectorstore.Store, docRepo repository.DocumentRepository, registryRepo repository.RegistryRepository, minioCfg config.MinIOConfig) AdminService {
	return &adminService{
		store:        store,
		docRepo:      docRepo,
		registryRepo: registryRepo,
		bucketName:   minioCfg.BucketName,
	}
}

// Health 逐个探测依赖组件，返回组件名到状态的映射。
// 任何组件异常都不会让探测本身失败。
func (s *adminService) Health(ctx context.Context) map[string]string {
	status := map[string]string{}

	if err := database.RDB.Ping(ctx).Err(); err != nil {
		status["redis"] = "down: " + err.Error()
	} else {
		status["redis"] = "ok"
	}

	if sqlDB, err := database.DB.DB(); err != nil {
		status["mysql"] = "down: " + err.Error()
	} else if err := sqlDB.PingContext(ctx); err != nil {
		status["mysql"] = "down: " + err.Error()
	} else {
		status["mysql"] = "ok"
	}

	if _, err := s.store.Stats(ctx, ""); err != nil {
		status["elasticsearch"] = "down: " + err.Error()
	} else {
		status["elasticsearch"] = "ok"
	}

	if _, err := storage.ListObjects(ctx, s.bucketName, ""); err != nil {
		status["minio"] = "down: " + err.Error()
	} else {
		status["minio"] = "ok"
	}

	return status
}

// StorageInfo 汇总向量索引、对象存储与关系库中该命名空间的数据量。
func (s *adminService) StorageInfo(ctx context.Context, namespace string) (*StorageInfoDTO, error) {
	stats, err := s.store.Stats(ctx, namespace)
	if err != nil {
		return nil, err
	}

	objects, err := storage.ListObjects(ctx, s.bucketName, namespace+"/")
	if err != nil {
		return nil, err
	}

	chunkRows, err := s.docRepo.CountChunks(namespace)
	if err != nil {
		return nil, err
	}

	docs, err := s.docRepo.FindByNamespace(namespace)
	if err != nil {
		return nil, err
	}

	return &StorageInfoDTO{
		Namespace:        namespace,
		TotalVectors:     stats.TotalVectorCount,
		NamespaceVectors: stats.NamespaceVectorCount,
		StoredObjects:    len(objects),
		ChunkRows:        chunkRows,
		Documents:        docs,
	}, nil
}

// Clear 按命名空间清空三个存储层。向量索引失败直接返回，
// 关系库与注册表的清理失败只记录，避免留下半清空的索引假象。
func (s *adminService) Clear(ctx context.Context, namespace string) error {
	if err := s.store.Clear(ctx, namespace); err != nil {
		return err
	}
	if err := s.docRepo.DeleteByNamespace(namespace); err != nil {
		log.Errorf("[AdminService] 清理关系库记录失败: namespace=%s: %v", namespace, err)
	}
	if err := s.registryRepo.ClearNamespace(ctx, namespace); err != nil {
		log.Errorf("[AdminService] 清理摄取注册表失败: namespace=%s: %v", namespace, err)
	}
	log.Infof("[AdminService] 命名空间已清空: %s", namespace)
	return nil
}

// Reprocess 为命名空间下的每个对象投递重处理任务。
// 重处理跳过摄取注册表（强制重跑），索引层的追加语义由调用方先 Clear 控制。
func (s *adminService) Reprocess(ctx context.Context, namespace string) (int, error) {
	objects, err := storage.ListObjects(ctx, s.bucketName, namespace+"/")
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, obj := range objects {
		task := tasks.DocumentProcessingTask{
			ObjectName: obj.Name,
			FileName:   originalFileName(obj.Name),
			Namespace:  namespace,
		}
		if err := kafka.ProduceDocumentTask(task); err != nil {
			log.Errorf("[AdminService] 投递重处理任务失败: %s: %v", obj.Name, err)
			continue
		}
		enqueued++
	}

	log.Infof("[AdminService] 已投递 %d/%d 个重处理任务: namespace=%s", enqueued, len(objects), namespace)
	return enqueued, nil
}

// originalFileName 从带随机前缀的对象名中还原原始文件名。
// 对象名格式为 {namespace}/{8位随机}_{原始文件名}。
func originalFileName(objectName string) string {
	base := path.Base(objectName)
	if i := strings.Index(base, "_"); i == 8 {
		return base[i+1:]
	}
	return base
}
