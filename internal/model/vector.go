package model

// VectorRecord 代表存储在 Elasticsearch 向量索引中的一条记录。
// Namespace 是逻辑分区键，所有读写都必须带上它。
type VectorRecord struct {
	VectorID     string    `json:"vector_id"`
	Namespace    string    `json:"namespace"`
	Filename     string    `json:"filename"`
	ChunkSeq     int       `json:"chunk_id"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"`
	TokenCount   int       `json:"token_count"`
	ModelVersion string    `json:"model_version"`
}

// RetrievalResult 是单次查询返回的一条命中，响应构建完成后即丢弃。
// Score 为余弦相似度（-1 到 1），而非 Elasticsearch 的归一化打分。
type RetrievalResult struct {
	VectorID string                 `json:"vector_id"`
	Text     string                 `json:"text"`
	Filename string                 `json:"filename"`
	ChunkSeq int                    `json:"chunk_id"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata"`
}

// IndexStats 汇总向量索引的记录数统计。
type IndexStats struct {
	TotalVectorCount     int64 `json:"total_vector_count"`
	NamespaceVectorCount int64 `json:"namespace_vector_count"`
}
