package model

// 答案的数据来源标记。调用方通过它区分“基于文档生成”“基于通用知识生成”
// 与“模板降级”，无需翻日志。
const (
	DataSourceDocuments = "pdf_documents"
	DataSourceGeneral   = "llm_knowledge_base"
	DataSourceTemplate  = "template_fallback"
)

// ChatRequest 定义了 POST /chat 的请求体。
type ChatRequest struct {
	Query     string `json:"query" binding:"required"`
	Persona   string `json:"persona"`
	Namespace string `json:"namespace"`
}

// Source 是展示给调用方的引用条目，由 RetrievalResult 派生。
type Source struct {
	Citation       string  `json:"citation"`
	Filename       string  `json:"filename"`
	ChunkID        int     `json:"chunk_id"`
	RelevanceScore float64 `json:"relevance_score"`
	TextPreview    string  `json:"text_preview"`
}

// ChatAnswer 是编排器 Answer 的完整返回结构，同时也是 /chat 的响应体。
type ChatAnswer struct {
	Answer          string   `json:"answer"`
	Sources         []Source `json:"sources"`
	RetrievedChunks int      `json:"retrieved_chunks"`
	Persona         string   `json:"persona"`
	Query           string   `json:"query"`
	DataSource      string   `json:"data_source"`
	FallbackUsed    bool     `json:"fallback_used"`
}

// IngestResponse 定义了 POST /ingest 的成功响应体。
type IngestResponse struct {
	Message       string `json:"message"`
	ChunksCreated int    `json:"chunks_created"`
	Filename      string `json:"filename"`
}
