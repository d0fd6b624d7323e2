// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"med-rag-go/pkg/embedding"
	"med-rag-go/pkg/log"
	"strings"
)

// EmbedService 在底层 Embedding 客户端之上提供降级语义：
// 任何失败都退化为全零向量而不是向调用方抛错，
// 摄取和检索在相关性降级的情况下继续运行。
// 全零向量与任何向量的余弦相似度视为 0。
type EmbedService interface {
	// Embed 返回单条文本的向量；失败时返回全零向量。
	Embed(ctx context.Context, text string) []float32
	// EmbedBatch 返回与输入等长、顺序一致的向量序列，
	// 空白输入与失败项的位置上是全零向量。
	EmbedBatch(ctx context.Context, texts []string) [][]float32
	// Dimensions 返回向量维度，启动时确定后不再变化。
	Dimensions() int
}

type embedService struct {
	client embedding.Client
	dims   int
}

// NewEmbedService 创建一个新的 EmbedService 实例。
func NewEmbedService(client embedding.Client) EmbedService {
	return &embedService{
		client: client,
		dims:   client.Dimensions(),
	}
}

func (s *embedService) Dimensions() int {
	return s.dims
}

func (s *embedService) zeroVector() []float32 {
	return make([]float32, s.dims)
}

// Embed 返回单条文本的向量；空白输入或失败时返回全零向量。
func (s *embedService) Embed(ctx context.Context, text string) []float32 {
	if strings.TrimSpace(text) == "" {
		return s.zeroVector()
	}
	vector, err := s.client.CreateEmbedding(ctx, text)
	if err != nil {
		log.Errorf("[EmbedService] 单条向量化失败，降级为零向量: %v", err)
		return s.zeroVector()
	}
	if len(vector) != s.dims {
		log.Warnf("[EmbedService] 向量维度异常: 期望 %d, 实际 %d, 降级为零向量", s.dims, len(vector))
		return s.zeroVector()
	}
	return vector
}

// EmbedBatch 批量向量化。先过滤空白文本再调用底层 API（节省配额），
// 然后把零向量回插到原始空白位置，保证输出与输入的下标对齐。
func (s *embedService) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	results := make([][]float32, len(texts))
	if len(texts) == 0 {
		return results
	}

	nonEmpty := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = s.zeroVector()
			continue
		}
		nonEmpty = append(nonEmpty, text)
		positions = append(positions, i)
	}

	if len(nonEmpty) == 0 {
		return results
	}

	vectors, err := s.client.CreateEmbeddings(ctx, nonEmpty)
	if err != nil {
		log.Errorf("[EmbedService] 批量向量化失败，%d 条全部降级为零向量: %v", len(nonEmpty), err)
		for _, pos := range positions {
			results[pos] = s.zeroVector()
		}
		return results
	}

	for j, pos := range positions {
		if len(vectors[j]) != s.dims {
			log.Warnf("[EmbedService] 第 %d 条向量维度异常，降级为零向量", pos)
			results[pos] = s.zeroVector()
			continue
		}
		results[pos] = vectors[j]
	}
	return results
}
