// Package repository 提供了数据访问层的实现。
package repository

import (
	"med-rag-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 定义了对 documents 和 document_chunks 表的数据操作接口。
type DocumentRepository interface {
	CreateDocument(doc *model.Document) error
	BatchCreateChunks(chunks []*model.DocumentChunk) error
	FindByNamespace(namespace string) ([]*model.Document, error)
	DeleteByNamespace(namespace string) error
	CountChunks(namespace string) (int64, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// CreateDocument 创建一条文档摄取记录。
func (r *documentRepository) CreateDocument(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// BatchCreateChunks 批量创建分块记录。
func (r *documentRepository) BatchCreateChunks(chunks []*model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.CreateInBatches(chunks, 100).Error // 每100条记录一批
}

// FindByNamespace 查找指定命名空间下的所有文档记录。
func (r *documentRepository) FindByNamespace(namespace string) ([]*model.Document, error) {
	var docs []*model.Document
	err := r.db.Where("namespace = ?", namespace).Order("ingested_at desc").Find(&docs).Error
	return docs, err
}

// DeleteByNamespace 删除指定命名空间下的文档及分块记录。
func (r *documentRepository) DeleteByNamespace(namespace string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("namespace = ?", namespace).Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		return tx.Where("namespace = ?", namespace).Delete(&model.Document{}).Error
	})
}

// CountChunks 统计指定命名空间下的分块总数。
func (r *documentRepository) CountChunks(namespace string) (int64, error) {
	var count int64
	err := r.db.Model(&model.DocumentChunk{}).Where("namespace = ?", namespace).Count(&count).Error
	return count, err
}
