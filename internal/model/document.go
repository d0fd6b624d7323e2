package model

import "time"

// Document 对应于数据库中的 documents 表，记录每次成功摄取的文档。
type Document struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	Filename   string    `gorm:"type:varchar(255);not null;index"`
	Namespace  string    `gorm:"type:varchar(128);not null;index"`
	ObjectName string    `gorm:"type:varchar(512);not null"`
	ChunkCount int       `gorm:"not null;default:0"`
	IngestedAt time.Time `gorm:"autoCreateTime"`
}

func (Document) TableName() string {
	return "documents"
}

// DocumentChunk 对应于数据库中的 document_chunks 表。
// 分块文本先落库再向量化，使原文不依赖向量索引即可恢复。
type DocumentChunk struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Filename     string `gorm:"type:varchar(255);not null;index"`
	Namespace    string `gorm:"type:varchar(128);not null;index"`
	ChunkSeq     int    `gorm:"not null;column:chunk_seq"`
	TextContent  string `gorm:"type:text;column:text_content"`
	TokenCount   int    `gorm:"not null;default:0"`
	ModelVersion string `gorm:"type:varchar(64)"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}
