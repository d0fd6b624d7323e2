// Package model 定义了核心管线与持久层共用的数据结构。
package model

// Chunk 代表分块器从单个文档切出的一个文本段。
// ID 由 (文件名, 序号) 确定性生成，仅在单次摄取内唯一；
// 写入向量索引前由调用方追加随机后缀以避免跨次摄取的碰撞。
type Chunk struct {
	ID            string                 `json:"id"`
	Text          string                 `json:"text"`
	Filename      string                 `json:"filename"`
	SequenceIndex int                    `json:"chunk_id"`
	TokenCount    int                    `json:"token_count"`
	Metadata      map[string]interface{} `json:"metadata"`
}
