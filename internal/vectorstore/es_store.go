// Package vectorstore 实现了以 namespace 分区的向量索引，底层为 Elasticsearch。
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"med-rag-go/internal/model"
	"med-rag-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// upsertBatchSize 是单次 bulk 写入的记录数上限，用于规避后端请求体限制。
const upsertBatchSize = 100

// ErrNamespaceRequired 在读写未携带 namespace 时返回。
// 跨 namespace 泄漏属于正确性缺陷，这里直接拒绝而不是给默认值。
var ErrNamespaceRequired = errors.New("vectorstore: namespace is required")

// Store 定义了向量索引的操作接口。
// 所有写入在子批粒度上原子；写入后不保证立即可读（后端最终一致）。
type Store interface {
	// Upsert 批量写入记录，返回已提交的记录数。
	// 某个子批失败时中止剩余子批并返回错误，已提交数仍然有效。
	Upsert(ctx context.Context, records []model.VectorRecord, namespace string) (int, error)
	// Query 返回与查询向量最相近的至多 topK 条记录，按余弦相似度降序。
	// filter 为可选的元数据等值过滤条件，在排序之前收窄候选。
	Query(ctx context.Context, vector []float32, topK int, namespace string, filter map[string]interface{}) ([]model.RetrievalResult, error)
	// Delete 按 ID 删除指定 namespace 内的记录。
	Delete(ctx context.Context, ids []string, namespace string) error
	// Clear 删除整个 namespace 的全部记录。
	Clear(ctx context.Context, namespace string) error
	// Stats 返回 namespace 与全索引的记录数。
	Stats(ctx context.Context, namespace string) (model.IndexStats, error)
}

type esStore struct {
	client    *elasticsearch.Client
	indexName string
}

// NewESStore 创建一个基于 Elasticsearch 的向量索引。
func NewESStore(client *elasticsearch.Client, indexName string) Store {
	return &esStore{client: client, indexName: indexName}
}

// Upsert 以 bulk API 分子批写入，每批 100 条。
func (s *esStore) Upsert(ctx context.Context, records []model.VectorRecord, namespace string) (int, error) {
	if namespace == "" {
		return 0, ErrNamespaceRequired
	}
	if len(records) == 0 {
		return 0, nil
	}

	totalBatches := (len(records) + upsertBatchSize - 1) / upsertBatchSize
	committed := 0
	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		if err := s.bulkIndex(ctx, batch, namespace); err != nil {
			log.Errorf("[VectorStore] bulk 写入失败, 已提交 %d/%d 条: %v", committed, len(records), err)
			return committed, fmt.Errorf("bulk 写入批次失败: %w", err)
		}
		committed += len(batch)
		log.Infof("[VectorStore] 已提交批次 %d/%d", start/upsertBatchSize+1, totalBatches)
	}
	return committed, nil
}

func (s *esStore) bulkIndex(ctx context.Context, batch []model.VectorRecord, namespace string) error {
	var buf bytes.Buffer
	for _, rec := range batch {
		rec.Namespace = namespace
		meta := map[string]map[string]string{
			"index": {"_index": s.indexName, "_id": rec.VectorID},
		}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("序列化 bulk 元数据失败: %w", err)
		}
		docBytes, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("序列化向量记录失败: %w", err)
		}
		buf.Write(metaBytes)
		buf.WriteByte('\n')
		buf.Write(docBytes)
		buf.WriteByte('\n')
	}

	res, err := s.client.Bulk(bytes.NewReader(buf.Bytes()),
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithIndex(s.indexName),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bulk 请求返回错误: %s", string(body))
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, op := range item {
				if op.Error != nil {
					return fmt.Errorf("bulk 条目写入失败: %s: %s", op.Error.Type, op.Error.Reason)
				}
			}
		}
		return errors.New("bulk 响应包含未知错误条目")
	}
	return nil
}

// Query 执行 kNN 检索。查询失败降级为空结果集，由上层的充分性闸门兜底。
func (s *esStore) Query(ctx context.Context, vector []float32, topK int, namespace string, filter map[string]interface{}) ([]model.RetrievalResult, error) {
	if namespace == "" {
		return nil, ErrNamespaceRequired
	}

	// namespace 过滤强制存在；元数据过滤作为附加 term 收窄候选
	must := []map[string]interface{}{
		{"term": map[string]interface{}{"namespace": namespace}},
	}
	for field, value := range filter {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{field: value},
		})
	}

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": topK * 10,
			"filter": map[string]interface{}{
				"bool": map[string]interface{}{"must": must},
			},
		},
		"size": topK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("序列化 kNN 查询失败: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch 检索失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch 返回错误: %s", string(body))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.VectorRecord `json:"_source"`
				Score  float64            `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("解析检索响应失败: %w", err)
	}

	results := make([]model.RetrievalResult, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.RetrievalResult{
			VectorID: hit.Source.VectorID,
			Text:     hit.Source.TextContent,
			Filename: hit.Source.Filename,
			ChunkSeq: hit.Source.ChunkSeq,
			// ES 对 cosine 的打分是 (1+cos)/2，这里还原为原始余弦相似度
			Score: 2*hit.Score - 1,
			Metadata: map[string]interface{}{
				"namespace":     hit.Source.Namespace,
				"token_count":   hit.Source.TokenCount,
				"model_version": hit.Source.ModelVersion,
			},
		})
	}
	return results, nil
}

// Delete 按 ID 删除指定 namespace 内的记录。
func (s *esStore) Delete(ctx context.Context, ids []string, namespace string) error {
	if namespace == "" {
		return ErrNamespaceRequired
	}
	if len(ids) == 0 {
		return nil
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []map[string]interface{}{
					{"term": map[string]interface{}{"namespace": namespace}},
					{"terms": map[string]interface{}{"vector_id": ids}},
				},
			},
		},
	}
	return s.deleteByQuery(ctx, query)
}

// Clear 删除整个 namespace 的全部记录。
func (s *esStore) Clear(ctx context.Context, namespace string) error {
	if namespace == "" {
		return ErrNamespaceRequired
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"namespace": namespace},
		},
	}
	return s.deleteByQuery(ctx, query)
}

func (s *esStore) deleteByQuery(ctx context.Context, query map[string]interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return fmt.Errorf("序列化删除查询失败: %w", err)
	}

	req := esapi.DeleteByQueryRequest{
		Index: []string{s.indexName},
		Body:  &buf,
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("delete_by_query 请求失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("delete_by_query 返回错误: %s", string(body))
	}
	return nil
}

// Stats 返回 namespace 与全索引的记录数。
func (s *esStore) Stats(ctx context.Context, namespace string) (model.IndexStats, error) {
	var stats model.IndexStats

	total, err := s.count(ctx, nil)
	if err != nil {
		return stats, err
	}
	stats.TotalVectorCount = total

	if namespace != "" {
		nsQuery := map[string]interface{}{
			"query": map[string]interface{}{
				"term": map[string]interface{}{"namespace": namespace},
			},
		}
		nsCount, err := s.count(ctx, nsQuery)
		if err != nil {
			return stats, err
		}
		stats.NamespaceVectorCount = nsCount
	}
	return stats, nil
}

func (s *esStore) count(ctx context.Context, query map[string]interface{}) (int64, error) {
	opts := []func(*esapi.CountRequest){
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(s.indexName),
	}
	if query != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(query); err != nil {
			return 0, fmt.Errorf("序列化计数查询失败: %w", err)
		}
		opts = append(opts, s.client.Count.WithBody(&buf))
	}

	res, err := s.client.Count(opts...)
	if err != nil {
		return 0, fmt.Errorf("count 请求失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("count 返回错误: %s", string(body))
	}

	var countResp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&countResp); err != nil {
		return 0, fmt.Errorf("解析 count 响应失败: %w", err)
	}
	return countResp.Count, nil
}
