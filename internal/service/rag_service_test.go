package service

import (
	"context"
	"errors"
	"fmt"
	"med-rag-go/internal/config"
	"med-rag-go/internal/model"
	"med-rag-go/pkg/llm"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore 是 vectorstore.Store 的测试替身，返回预设的检索结果。
type fakeStore struct {
	results       []model.RetrievalResult
	queryErr      error
	lastNamespace string
	lastTopK      int
}

func (f *fakeStore) Upsert(ctx context.Context, records []model.VectorRecord, namespace string) (int, error) {
	return len(records), nil
}

func (f *fakeStore) Query(ctx context.Context, vector []float32, topK int, namespace string, filter map[string]interface{}) ([]model.RetrievalResult, error) {
	f.lastNamespace = namespace
	f.lastTopK = topK
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.results, nil
}

func (f *fakeStore) Delete(ctx context.Context, ids []string, namespace string) error { return nil }
func (f *fakeStore) Clear(ctx context.Context, namespace string) error                { return nil }
func (f *fakeStore) Stats(ctx context.Context, namespace string) (model.IndexStats, error) {
	return model.IndexStats{}, nil
}

// fakeLLMClient 是 llm.Client 的测试替身。
type fakeLLMClient struct {
	configured   bool
	completeText string
	completeErr  error
	lastMessages []llm.Message
}

func (f *fakeLLMClient) Configured() bool { return f.configured }

func (f *fakeLLMClient) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	f.lastMessages = messages
	if f.completeErr != nil {
		return "", f.completeErr
	}
	return f.completeText, nil
}

func (f *fakeLLMClient) StreamChatMessages(ctx context.Context, messages []llm.Message, writer llm.MessageWriter) error {
	f.lastMessages = messages
	if f.completeErr != nil {
		return f.completeErr
	}
	return writer.WriteMessage(1, []byte(f.completeText))
}

// frameRecorder 记录 StreamAnswer 写出的全部帧。
type frameRecorder struct {
	frames []string
}

func (r *frameRecorder) WriteMessage(messageType int, data []byte) error {
	r.frames = append(r.frames, string(data))
	return nil
}

func newTestRAGService(store *fakeStore, llmClient *fakeLLMClient) RAGService {
	embedClient := &fakeEmbeddingClient{dims: 4}
	return NewRAGService(NewEmbedService(embedClient), store, llmClient, config.RAGConfig{})
}

// makeResults 生成 n 条指定分数的检索结果，每条文本 charsEach 个字符。
func makeResults(n int, score float64, charsEach int) []model.RetrievalResult {
	results := make([]model.RetrievalResult, n)
	for i := range results {
		results[i] = model.RetrievalResult{
			VectorID: fmt.Sprintf("vec_%d", i),
			Text:     strings.Repeat("x", charsEach),
			Filename: "guide.pdf",
			ChunkSeq: i,
			Score:    score,
		}
	}
	return results
}

func TestIsSufficient_Boundaries(t *testing.T) {
	svc := newTestRAGService(&fakeStore{}, &fakeLLMClient{}).(*ragService)

	tests := []struct {
		name    string
		results []model.RetrievalResult
		want    bool
	}{
		{"三条高相关且满500字符", makeResults(3, 0.31, 167), true}, // 3*167 = 501
		{"仅两条高相关", makeResults(2, 0.9, 300), false},
		{"分数恰好等于阈值不计入", makeResults(3, 0.3, 200), false},
		{"总字符数499", append(makeResults(3, 0.5, 166), model.RetrievalResult{Text: ":", Score: 0.1}), false}, // 3*166+1 = 499
		{"总字符数恰好500", append(makeResults(3, 0.5, 166), model.RetrievalResult{Text: "ab", Score: 0.1}), true},
		{"空结果集", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.isSufficient(tt.results))
		})
	}
}

// 字符数阈值按 rune 计数：中文等多字节文本不得因字节数虚高而通过闸门。
func TestIsSufficient_MultiByteTextCountsRunes(t *testing.T) {
	svc := newTestRAGService(&fakeStore{}, &fakeLLMClient{}).(*ragService)

	makeCJK := func(runesEach int) []model.RetrievalResult {
		results := make([]model.RetrievalResult, 3)
		for i := range results {
			results[i] = model.RetrievalResult{
				Text:  strings.Repeat("高", runesEach),
				Score: 0.8,
			}
		}
		return results
	}

	// 3*100 = 300 字符（900 字节）：按字节算会误判通过
	assert.False(t, svc.isSufficient(makeCJK(100)))
	// 3*167 = 501 字符：达到阈值
	assert.True(t, svc.isSufficient(makeCJK(167)))
}

// 预览截断必须落在 rune 边界上，多字节文本不得产生无效 UTF-8 序列。
func TestPreviewText_MultiByteRuneBoundary(t *testing.T) {
	text := strings.Repeat("血压偏高需复查", 50) // 350 字符

	preview := previewText(text)

	assert.True(t, utf8.ValidString(preview))
	assert.True(t, strings.HasSuffix(preview, "..."))
	assert.Equal(t, sourcePreviewLen+3, utf8.RuneCountInString(preview))
	assert.Equal(t, string([]rune(text)[:sourcePreviewLen]), strings.TrimSuffix(preview, "..."))
}

// 显式配置 0.0 分数阈值是合法策略，不得被当作未配置回落到默认值。
func TestNewRAGService_ZeroMinScoreIsConfigurable(t *testing.T) {
	zero := 0.0
	store := &fakeStore{results: makeResults(3, 0.05, 200)}
	llmClient := &fakeLLMClient{configured: true, completeText: "Grounded answer."}
	embedClient := &fakeEmbeddingClient{dims: 4}
	svc := NewRAGService(NewEmbedService(embedClient), store, llmClient, config.RAGConfig{MinScore: &zero})

	answer := svc.Answer(context.Background(), "q", "doctor", "ns")

	// 0.05 > 0.0，三条候选全部计为高相关，闸门应当放行
	assert.False(t, answer.FallbackUsed)
	assert.Equal(t, model.DataSourceDocuments, answer.DataSource)

	// 未配置时仍回落到默认阈值，0.05 的候选不计入
	def := newTestRAGService(&fakeStore{}, &fakeLLMClient{}).(*ragService)
	assert.False(t, def.isSufficient(makeResults(3, 0.05, 200)))
}

// 场景：目标命名空间没有任何文档，且未配置生成后端。
func TestAnswer_EmptyNamespaceWithoutBackend(t *testing.T) {
	store := &fakeStore{}
	llmClient := &fakeLLMClient{configured: false}
	svc := newTestRAGService(store, llmClient)

	answer := svc.Answer(context.Background(), "What causes hypertension?", "doctor", "patient-1")

	assert.True(t, answer.FallbackUsed)
	assert.Empty(t, answer.Sources)
	assert.Equal(t, model.DataSourceTemplate, answer.DataSource)
	assert.Equal(t, model.PersonaDoctor.StaticFallbackMessage(), answer.Answer)
	assert.Equal(t, "patient-1", store.lastNamespace)
	assert.Equal(t, defaultTopK, store.lastTopK)
}

// 场景：证据不足但配置了生成后端，走通用知识回答。
func TestAnswer_InsufficientWithBackendUsesGeneralKnowledge(t *testing.T) {
	store := &fakeStore{results: makeResults(2, 0.2, 100)}
	llmClient := &fakeLLMClient{configured: true, completeText: "General medical advice."}
	svc := newTestRAGService(store, llmClient)

	answer := svc.Answer(context.Background(), "What causes hypertension?", "nurse", "ns")

	assert.True(t, answer.FallbackUsed)
	assert.Empty(t, answer.Sources)
	assert.Equal(t, model.DataSourceGeneral, answer.DataSource)
	assert.Equal(t, "General medical advice.", answer.Answer)
	assert.Equal(t, 2, answer.RetrievedChunks)

	// 存在低相关片段时，提示词附带一行说明
	require.Len(t, llmClient.lastMessages, 2)
	assert.Contains(t, llmClient.lastMessages[1].Content, "low-relevance")
	assert.Equal(t, model.PersonaNurse.SystemPrompt(), llmClient.lastMessages[0].Content)
}

// 场景：证据充分且生成后端正常返回。
func TestAnswer_SufficientEvidenceGroundedAnswer(t *testing.T) {
	store := &fakeStore{results: makeResults(4, 0.8, 250)}
	llmClient := &fakeLLMClient{configured: true, completeText: "Grounded answer [1]."}
	svc := newTestRAGService(store, llmClient)

	answer := svc.Answer(context.Background(), "q", "specialist", "ns")

	assert.False(t, answer.FallbackUsed)
	assert.Equal(t, model.DataSourceDocuments, answer.DataSource)
	assert.Equal(t, "Grounded answer [1].", answer.Answer)
	assert.Equal(t, 4, answer.RetrievedChunks)
	require.Len(t, answer.Sources, 4)

	// 引用标记从 [1] 起连续编号
	for i, src := range answer.Sources {
		assert.Equal(t, fmt.Sprintf("[%d]", i+1), src.Citation)
		assert.Equal(t, "guide.pdf", src.Filename)
		assert.Equal(t, i, src.ChunkID)
	}

	// 上下文按引用标记拼接后送入生成后端
	require.Len(t, llmClient.lastMessages, 2)
	assert.Contains(t, llmClient.lastMessages[1].Content, "[1]")
	assert.Contains(t, llmClient.lastMessages[1].Content, "[4]")
}

// 场景：证据充分但生成后端超时，回答由引用预览合成，不向调用方抛错。
func TestAnswer_BackendTimeoutSynthesizesFromSources(t *testing.T) {
	store := &fakeStore{results: makeResults(5, 0.8, 250)}
	llmClient := &fakeLLMClient{configured: true, completeErr: errors.New("context deadline exceeded")}
	svc := newTestRAGService(store, llmClient)

	answer := svc.Answer(context.Background(), "q", "doctor", "ns")

	assert.True(t, answer.FallbackUsed)
	assert.Equal(t, model.DataSourceTemplate, answer.DataSource)
	assert.NotEmpty(t, answer.Answer)
	// 合成回答引用前三条来源
	assert.Contains(t, answer.Answer, "[1]")
	assert.Contains(t, answer.Answer, "[3]")
	assert.NotContains(t, answer.Answer, "[4]")
	// 引用列表保留完整
	assert.Len(t, answer.Sources, 5)
}

func TestAnswer_ScoreRoundingAndPreview(t *testing.T) {
	longText := strings.Repeat("a", 300) + strings.Repeat("b", 300)
	store := &fakeStore{results: []model.RetrievalResult{
		{Text: longText, Filename: "a.pdf", ChunkSeq: 0, Score: 0.87654},
		{Text: longText, Filename: "a.pdf", ChunkSeq: 1, Score: 0.5},
		{Text: longText, Filename: "a.pdf", ChunkSeq: 2, Score: 0.5},
	}}
	llmClient := &fakeLLMClient{configured: true, completeText: "ok"}
	svc := newTestRAGService(store, llmClient)

	answer := svc.Answer(context.Background(), "q", "", "ns")

	require.Len(t, answer.Sources, 3)
	assert.Equal(t, 0.877, answer.Sources[0].RelevanceScore)
	// 预览截断到 200 字符并加省略号
	assert.Len(t, answer.Sources[0].TextPreview, 203)
	assert.True(t, strings.HasSuffix(answer.Sources[0].TextPreview, "..."))
	// 未知角色回落到 doctor
	assert.Equal(t, string(model.PersonaDoctor), answer.Persona)
}

// 检索层故障降级为空结果集，走降级路径而不是错误。
func TestAnswer_QueryFailureDegradesToFallback(t *testing.T) {
	store := &fakeStore{queryErr: errors.New("connection refused")}
	llmClient := &fakeLLMClient{configured: false}
	svc := newTestRAGService(store, llmClient)

	answer := svc.Answer(context.Background(), "q", "doctor", "ns")

	assert.True(t, answer.FallbackUsed)
	assert.Zero(t, answer.RetrievedChunks)
	assert.Equal(t, model.DataSourceTemplate, answer.DataSource)
	assert.NotEmpty(t, answer.Answer)
}

func TestStreamAnswer_SufficientEvidenceStreamsGrounded(t *testing.T) {
	store := &fakeStore{results: makeResults(3, 0.8, 200)}
	llmClient := &fakeLLMClient{configured: true, completeText: "streamed"}
	svc := newTestRAGService(store, llmClient)

	rec := &frameRecorder{}
	err := svc.StreamAnswer(context.Background(), "q", "doctor", "ns", rec)

	require.NoError(t, err)
	require.Len(t, rec.frames, 1)
	assert.Equal(t, "streamed", rec.frames[0])
}

func TestStreamAnswer_FallbackWritesSingleFrame(t *testing.T) {
	store := &fakeStore{}
	llmClient := &fakeLLMClient{configured: false}
	svc := newTestRAGService(store, llmClient)

	rec := &frameRecorder{}
	err := svc.StreamAnswer(context.Background(), "q", "specialist", "ns", rec)

	require.NoError(t, err)
	require.Len(t, rec.frames, 1)
	assert.Equal(t, model.PersonaSpecialist.StaticFallbackMessage(), rec.frames[0])
}
