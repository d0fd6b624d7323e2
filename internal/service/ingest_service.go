package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"med-rag-go/internal/chunker"
	"med-rag-go/internal/config"
	"med-rag-go/internal/model"
	"med-rag-go/internal/repository"
	"med-rag-go/internal/vectorstore"
	"med-rag-go/pkg/log"
	"med-rag-go/pkg/storage"
	"med-rag-go/pkg/tika"
	"strings"

	"github.com/google/uuid"
)

// ErrNoTextExtracted 在文档提取不出任何文本时返回。
// 提取失败是单文档级错误，不应中断其他文档的摄取。
var ErrNoTextExtracted = errors.New("ingest: no text extracted from document")

// IngestService 负责文档摄取的完整管线：
// 对象存储 → 文本提取 → 分块 → 向量化 → 向量索引 + 关系库落档。
type IngestService interface {
	// IngestUpload 将上传内容存入对象存储后走完整摄取管线，返回产生的分块数。
	IngestUpload(ctx context.Context, fileName string, reader io.Reader, size int64, namespace string) (int, error)
	// IngestObject 对已存在于对象存储中的对象执行摄取管线。
	IngestObject(ctx context.Context, objectName, fileName, namespace string) (int, error)
	// SeedFromStorage 摄取存储桶中注册表尚不知晓的对象（启动补种），
	// 返回成功摄取的对象数。单个对象失败不会中断其余对象。
	SeedFromStorage(ctx context.Context, namespace string) (int, error)
}

type ingestService struct {
	chunker      *chunker.Chunker
	embedService EmbedService
	store        vectorstore.Store
	docRepo      repository.DocumentRepository
	registryRepo repository.RegistryRepository
	tikaClient   *tika.Client
	bucketName   string
	modelVersion string
}

// NewIngestService 创建一个新的 IngestService 实例。
func NewIngestService(
	ck *chunker.Chunker,
	embedService EmbedService,
	store vectorstore.Store,
	docRepo repository.DocumentRepository,
	registryRepo repository.RegistryRepository,
	tikaClient *tika.Client,
	minioCfg config.MinIOConfig,
	embeddingCfg config.EmbeddingConfig,
) IngestService {
	return &ingestService{
		chunker:      ck,
		embedService: embedService,
		store:        store,
		docRepo:      docRepo,
		registryRepo: registryRepo,
		tikaClient:   tikaClient,
		bucketName:   minioCfg.BucketName,
		modelVersion: embeddingCfg.Model,
	}
}

// IngestUpload 先把上传内容落到对象存储（对象名带随机前缀避免同名覆盖），
// 再执行对象摄取管线。
func (s *ingestService) IngestUpload(ctx context.Context, fileName string, reader io.Reader, size int64, namespace string) (int, error) {
	objectName := fmt.Sprintf("%s/%s_%s", namespace, uuid.New().String()[:8], fileName)
	if err := storage.PutObject(ctx, s.bucketName, objectName, reader, size, "application/pdf"); err != nil {
		return 0, fmt.Errorf("上传对象到 MinIO 失败: %w", err)
	}
	log.Infof("[IngestService] 文件已存入对象存储: %s", objectName)

	return s.IngestObject(ctx, objectName, fileName, namespace)
}

// IngestObject 执行核心摄取管线。重复摄取同一文件名不做去重，
// 旧分块只能通过显式的命名空间清空移除。
func (s *ingestService) IngestObject(ctx context.Context, objectName, fileName, namespace string) (int, error) {
	if namespace == "" {
		return 0, vectorstore.ErrNamespaceRequired
	}

	// 1. 从对象存储读取原始文件
	object, err := storage.GetObject(ctx, s.bucketName, objectName)
	if err != nil {
		return 0, fmt.Errorf("读取对象失败: %w", err)
	}
	defer object.Close()

	// 2. 调用 Tika 提取纯文本；提取不到文本按"无文本"处理，不摄取垃圾内容
	rawText, err := s.tikaClient.ExtractText(ctx, object, fileName)
	if err != nil {
		return 0, fmt.Errorf("文本提取失败: %w", err)
	}
	if strings.TrimSpace(rawText) == "" {
		return 0, ErrNoTextExtracted
	}

	// 3. 分块
	chunks := s.chunker.ChunkText(rawText, fileName)
	if len(chunks) == 0 {
		return 0, ErrNoTextExtracted
	}
	log.Infof("[IngestService] 文档分块完成: %s, %d 个分块", fileName, len(chunks))

	// 4. 向量化（失败项降级为零向量，管线继续）
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors := s.embedService.EmbedBatch(ctx, texts)

	// 5. 写入向量索引。分块 ID 仅在单次摄取内唯一，
	// 追加随机后缀避免跨次摄取的 ID 碰撞（重复摄取是追加而非覆盖）。
	records := make([]model.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = model.VectorRecord{
			VectorID:     fmt.Sprintf("%s_%s", c.ID, uuid.New().String()[:8]),
			Namespace:    namespace,
			Filename:     c.Filename,
			ChunkSeq:     c.SequenceIndex,
			TextContent:  c.Text,
			Vector:       vectors[i],
			TokenCount:   c.TokenCount,
			ModelVersion: s.modelVersion,
		}
	}

	committed, err := s.store.Upsert(ctx, records, namespace)
	if err != nil {
		log.Errorf("[IngestService] 向量写入部分失败: %s, 已提交 %d/%d: %v", fileName, committed, len(records), err)
		return committed, fmt.Errorf("向量写入失败(已提交 %d/%d): %w", committed, len(records), err)
	}

	// 6. 分块文本落库，原文不依赖向量索引即可恢复
	dbChunks := make([]*model.DocumentChunk, len(chunks))
	for i, c := range chunks {
		dbChunks[i] = &model.DocumentChunk{
			Filename:     c.Filename,
			Namespace:    namespace,
			ChunkSeq:     c.SequenceIndex,
			TextContent:  c.Text,
			TokenCount:   c.TokenCount,
			ModelVersion: s.modelVersion,
		}
	}
	if err := s.docRepo.BatchCreateChunks(dbChunks); err != nil {
		// 向量已提交，落库失败只记录不回滚
		log.Errorf("[IngestService] 分块落库失败: %s: %v", fileName, err)
	}
	if err := s.docRepo.CreateDocument(&model.Document{
		Filename:   fileName,
		Namespace:  namespace,
		ObjectName: objectName,
		ChunkCount: len(chunks),
	}); err != nil {
		log.Errorf("[IngestService] 文档记录落库失败: %s: %v", fileName, err)
	}

	// 7. 在摄取注册表中标记，供启动补种去重
	if err := s.registryRepo.MarkProcessed(ctx, namespace, objectName); err != nil {
		log.Errorf("[IngestService] 更新摄取注册表失败: %s: %v", objectName, err)
	}

	log.Infof("[IngestService] 摄取完成: %s, namespace: %s, %d 个分块已提交", fileName, namespace, committed)
	return committed, nil
}

// SeedFromStorage 对比对象存储与摄取注册表，补摄取遗漏的对象。
// 用于进程启动时追平离线期间直接放进存储桶的文件。
func (s *ingestService) SeedFromStorage(ctx context.Context, namespace string) (int, error) {
	objects, err := storage.ListObjects(ctx, s.bucketName, namespace+"/")
	if err != nil {
		return 0, fmt.Errorf("列举存储对象失败: %w", err)
	}

	seeded := 0
	for _, obj := range objects {
		processed, err := s.registryRepo.IsProcessed(ctx, namespace, obj.Name)
		if err != nil {
			log.Errorf("[IngestService] 查询摄取注册表失败: %s: %v", obj.Name, err)
			continue
		}
		if processed {
			continue
		}

		fileName := originalFileName(obj.Name)
		if _, err := s.IngestObject(ctx, obj.Name, fileName, namespace); err != nil {
			// 单文档失败不中断补种
			log.Errorf("[IngestService] 补种摄取失败: %s: %v", obj.Name, err)
			continue
		}
		seeded++
	}

	if seeded > 0 {
		log.Infof("[IngestService] 启动补种完成: namespace=%s, 新摄取 %d 个对象", namespace, seeded)
	}
	return seeded, nil
}
