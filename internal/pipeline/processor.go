// Package pipeline 定义了异步文档重处理的消费端流程。
package pipeline

import (
	"context"
	"med-rag-go/internal/service"
	"med-rag-go/pkg/log"
	"med-rag-go/pkg/tasks"
)

// Processor 把 Kafka 文档任务桥接到同步摄取管线。
// 它实现了 kafka.TaskProcessor 接口。
type Processor struct {
	ingestService service.IngestService
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(ingestService service.IngestService) *Processor {
	return &Processor{ingestService: ingestService}
}

// Process 处理一个文档任务：对存储桶中的对象重新执行完整摄取管线。
// 返回错误时由消费端按重试策略处理。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentProcessingTask) error {
	log.Infof("[Processor] 开始重处理文档, Object: %s, Namespace: %s", task.ObjectName, task.Namespace)

	committed, err := p.ingestService.IngestObject(ctx, task.ObjectName, task.FileName, task.Namespace)
	if err != nil {
		log.Errorf("[Processor] 重处理失败, Object: %s, Error: %v", task.ObjectName, err)
		return err
	}

	log.Infof("[Processor] 重处理完成, Object: %s, %d 个分块已提交", task.ObjectName, committed)
	return nil
}
