package service

import (
	"context"
	"fmt"
	"math"
	"med-rag-go/internal/config"
	"med-rag-go/internal/model"
	"med-rag-go/internal/vectorstore"
	"med-rag-go/pkg/llm"
	"med-rag-go/pkg/log"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

const (
	defaultTopK              = 8
	defaultMinRelevantChunks = 3
	defaultMinScore          = 0.3
	defaultMinContextChars   = 500

	// sourcePreviewLen 是引用条目中文本预览的最大字符数。
	sourcePreviewLen = 200
	// defaultNamespace 在调用方未指定分区时使用。
	defaultNamespace = "default"
)

// RAGService 是检索增强问答的编排器。
// Answer 永远不向调用方返回错误：每一级后端故障都降级为可用的回答，
// 调用方通过 ChatAnswer.DataSource 与 FallbackUsed 区分回答的来源。
type RAGService interface {
	Answer(ctx context.Context, query, persona, namespace string) model.ChatAnswer
	// StreamAnswer 以 WebSocket 帧流式下发回答；降级文本作为单帧写出。
	StreamAnswer(ctx context.Context, query, persona, namespace string, writer llm.MessageWriter) error
}

type ragService struct {
	embedService EmbedService
	store        vectorstore.Store
	llmClient    llm.Client
	cfg          config.RAGConfig
}

// NewRAGService 创建一个新的 RAGService 实例。
// 充分性阈值来自配置，零值回落到默认策略参数。
func NewRAGService(embedService EmbedService, store vectorstore.Store, llmClient llm.Client, cfg config.RAGConfig) RAGService {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.MinRelevantChunks <= 0 {
		cfg.MinRelevantChunks = defaultMinRelevantChunks
	}
	// MinScore 用指针区分"未配置"与显式的 0.0 阈值
	if cfg.MinScore == nil {
		v := defaultMinScore
		cfg.MinScore = &v
	}
	if cfg.MinContextChars <= 0 {
		cfg.MinContextChars = defaultMinContextChars
	}
	return &ragService{
		embedService: embedService,
		store:        store,
		llmClient:    llmClient,
		cfg:          cfg,
	}
}

// Answer 执行线性状态机：向量化 → 检索 → 充分性闸门 → 生成或降级。
func (s *ragService) Answer(ctx context.Context, query, persona, namespace string) model.ChatAnswer {
	p := model.ParsePersona(persona)
	if namespace == "" {
		namespace = defaultNamespace
	}

	results := s.retrieve(ctx, query, namespace)

	answer := model.ChatAnswer{
		Persona:         string(p),
		Query:           query,
		RetrievedChunks: len(results),
		Sources:         []model.Source{},
	}

	if !s.isSufficient(results) {
		return s.answerWithoutContext(ctx, p, query, len(results) > 0, answer)
	}

	contextText, sources := s.buildContext(results)
	answer.Sources = sources

	if !s.llmClient.Configured() {
		// 生成后端未配置视同不可用，用检索结果合成回答
		answer.Answer = s.synthesizeFromSources(sources)
		answer.DataSource = model.DataSourceTemplate
		answer.FallbackUsed = true
		return answer
	}

	text, err := s.llmClient.Complete(ctx, s.groundedMessages(p, contextText, query))
	if err != nil {
		log.Errorf("[RAGService] 生成后端调用失败，降级为引用合成回答: %v", err)
		answer.Answer = s.synthesizeFromSources(sources)
		answer.DataSource = model.DataSourceTemplate
		answer.FallbackUsed = true
		return answer
	}

	answer.Answer = text
	answer.DataSource = model.DataSourceDocuments
	answer.FallbackUsed = false
	return answer
}

// StreamAnswer 与 Answer 共享检索与闸门逻辑，生成阶段改为流式下发。
// 所有降级文本作为单个文本帧写出，调用方无需区分路径。
func (s *ragService) StreamAnswer(ctx context.Context, query, persona, namespace string, writer llm.MessageWriter) error {
	p := model.ParsePersona(persona)
	if namespace == "" {
		namespace = defaultNamespace
	}

	results := s.retrieve(ctx, query, namespace)

	if !s.isSufficient(results) {
		if s.llmClient.Configured() {
			if err := s.llmClient.StreamChatMessages(ctx, s.generalMessages(p, query, len(results) > 0), writer); err == nil {
				return nil
			}
		}
		return writer.WriteMessage(websocket.TextMessage, []byte(p.StaticFallbackMessage()))
	}

	contextText, sources := s.buildContext(results)

	if s.llmClient.Configured() {
		if err := s.llmClient.StreamChatMessages(ctx, s.groundedMessages(p, contextText, query), writer); err == nil {
			return nil
		}
		log.Errorf("[RAGService] 流式生成失败，降级为引用合成回答")
	}
	return writer.WriteMessage(websocket.TextMessage, []byte(s.synthesizeFromSources(sources)))
}

// retrieve 向量化查询并检索候选。检索失败降级为空结果集，
// 由充分性闸门把请求引向降级路径，而不是让错误穿透到调用方。
func (s *ragService) retrieve(ctx context.Context, query, namespace string) []model.RetrievalResult {
	queryVector := s.embedService.Embed(ctx, query)

	results, err := s.store.Query(ctx, queryVector, s.cfg.TopK, namespace, nil)
	if err != nil {
		log.Errorf("[RAGService] 向量检索失败，降级为空结果集: %v", err)
		return nil
	}
	return results
}

// isSufficient 判定本地证据是否足以支撑有据生成：
// 高相关候选数和上下文总字符数两个条件必须同时满足。
// 字符数按 rune 计数而非字节数，多字节文本下阈值语义才一致。
func (s *ragService) isSufficient(results []model.RetrievalResult) bool {
	relevant := 0
	totalChars := 0
	for _, r := range results {
		if r.Score > *s.cfg.MinScore {
			relevant++
		}
		totalChars += utf8.RuneCountInString(r.Text)
	}
	return relevant >= s.cfg.MinRelevantChunks && totalChars >= s.cfg.MinContextChars
}

// buildContext 按检索顺序拼接带位置引用标记的上下文，并生成平行的引用列表。
func (s *ragService) buildContext(results []model.RetrievalResult) (string, []model.Source) {
	var contextBuilder strings.Builder
	sources := make([]model.Source, 0, len(results))

	for i, r := range results {
		marker := fmt.Sprintf("[%d]", i+1)
		contextBuilder.WriteString(fmt.Sprintf("%s %s\n\n", marker, r.Text))
		sources = append(sources, model.Source{
			Citation:       marker,
			Filename:       r.Filename,
			ChunkID:        r.ChunkSeq,
			RelevanceScore: math.Round(r.Score*1000) / 1000,
			TextPreview:    previewText(r.Text),
		})
	}
	return contextBuilder.String(), sources
}

// previewText 在 rune 边界截断，避免把多字节字符切成无效序列。
func previewText(text string) string {
	runes := []rune(text)
	if len(runes) <= sourcePreviewLen {
		return text
	}
	return string(runes[:sourcePreviewLen]) + "..."
}

// groundedMessages 构建基于检索上下文的有据生成消息对。
func (s *ragService) groundedMessages(p model.Persona, contextText, query string) []llm.Message {
	userPrompt := fmt.Sprintf(
		"Based on the following document excerpts, answer the question. "+
			"Cite the excerpts you use with their markers ([1], [2], ...).\n\n"+
			"Document excerpts:\n%s\nQuestion: %s",
		contextText, query)
	return []llm.Message{
		{Role: "system", Content: p.SystemPrompt()},
		{Role: "user", Content: userPrompt},
	}
}

// generalMessages 构建无据通用知识回答的消息对。
// hadWeakChunks 为真时附加一行说明，告知存在未达阈值的低相关片段。
func (s *ragService) generalMessages(p model.Persona, query string, hadWeakChunks bool) []llm.Message {
	userPrompt := fmt.Sprintf(
		"Answer the following question from your general knowledge.\n\nQuestion: %s", query)
	if hadWeakChunks {
		userPrompt += "\n\n(Note: the uploaded documents contained only low-relevance excerpts for this question; do not rely on them.)"
	}
	return []llm.Message{
		{Role: "system", Content: p.SystemPrompt()},
		{Role: "user", Content: userPrompt},
	}
}

// answerWithoutContext 处理闸门失败的两级降级：
// 配置了生成后端走通用知识回答，否则返回角色固定的静态提示。
func (s *ragService) answerWithoutContext(ctx context.Context, p model.Persona, query string, hadWeakChunks bool, answer model.ChatAnswer) model.ChatAnswer {
	answer.FallbackUsed = true
	answer.Sources = []model.Source{}

	if !s.llmClient.Configured() {
		answer.Answer = p.StaticFallbackMessage()
		answer.DataSource = model.DataSourceTemplate
		return answer
	}

	text, err := s.llmClient.Complete(ctx, s.generalMessages(p, query, hadWeakChunks))
	if err != nil {
		log.Errorf("[RAGService] 通用知识生成失败，降级为静态回复: %v", err)
		answer.Answer = p.StaticFallbackMessage()
		answer.DataSource = model.DataSourceTemplate
		return answer
	}

	answer.Answer = text
	answer.DataSource = model.DataSourceGeneral
	return answer
}

// synthesizeFromSources 在生成后端不可用时，用排名前三的引用预览合成回答。
func (s *ragService) synthesizeFromSources(sources []model.Source) string {
	var b strings.Builder
	b.WriteString("I found the following relevant information in the uploaded documents:\n\n")
	limit := 3
	if len(sources) < limit {
		limit = len(sources)
	}
	for i := 0; i < limit; i++ {
		b.WriteString(fmt.Sprintf("%s From %s: %s\n\n", sources[i].Citation, sources[i].Filename, sources[i].TextPreview))
	}
	b.WriteString("(The answer generator is currently unavailable; the excerpts above are quoted directly from your documents.)")
	return b.String()
}
