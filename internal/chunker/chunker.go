// Package chunker 实现了基于 token 计数的句子级文本分块。
package chunker

import (
	"fmt"
	"med-rag-go/internal/model"
	"regexp"
	"strings"
)

const (
	// DefaultChunkSize 是单个分块的目标 token 数（软上限）。
	DefaultChunkSize = 400
	// DefaultChunkOverlap 是相邻分块之间的目标重叠 token 数。
	DefaultChunkOverlap = 80
)

// TokenCounter 抽象了分词计数器。同一输入与模型标识下计数必须可复现。
type TokenCounter interface {
	CountTokens(text string) int
}

// Chunker 将长文本切分为带重叠的、以 token 计数为界的分块序列。
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	counter      TokenCounter
}

// New 创建一个 Chunker。size/overlap 非正时使用默认值。
func New(chunkSize, chunkOverlap int, counter TokenCounter) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap <= 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		counter:      counter,
	}
}

var (
	reNullBytes   = regexp.MustCompile("\x00+")
	reHyphenBreak = regexp.MustCompile(`([\p{L}\d])-\r?\n\s*([\p{L}\d])`)
	rePageMarker  = regexp.MustCompile(`--- Page \d+ ---`)
	reWhitespace  = regexp.MustCompile(`\s+`)
	reNewlines    = regexp.MustCompile(`\n+`)
	// 句子边界：.!? 后跟空白。Go 的 regexp 不支持后行断言，
	// 先把边界替换成分隔符再切开，标点保留在句尾。
	reSentenceEnd = regexp.MustCompile(`([.!?])\s+`)

	// 常见连字的展开映射
	ligatures = strings.NewReplacer(
		"ﬀ", "ff",
		"ﬁ", "fi",
		"ﬂ", "fl",
		"ﬃ", "ffi",
		"ﬄ", "ffl",
	)
)

// CleanText 对原始提取文本做规范化：去除空字节、展开连字、
// 合并被换行打断的连字符单词、剔除页码标记、折叠空白。
func CleanText(text string) string {
	text = reNullBytes.ReplaceAllString(text, "")
	text = ligatures.Replace(text)
	text = reHyphenBreak.ReplaceAllString(text, "$1$2")
	text = rePageMarker.ReplaceAllString(text, "")
	text = reNewlines.ReplaceAllString(text, "\n")
	text = reWhitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// SplitSentences 按标点边界把规范化后的文本切成句子，空白句被丢弃。
func SplitSentences(text string) []string {
	marked := reSentenceEnd.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// ChunkText 将文本切分为带重叠的分块序列。
// 目标 token 数是软上限：单句超限时整句独立成块，绝不从句中截断。
// 相同输入与参数下输出完全确定。
func (c *Chunker) ChunkText(text, filename string) []model.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sentences := SplitSentences(CleanText(text))
	if len(sentences) == 0 {
		return nil
	}

	var chunks []model.Chunk
	var current []string
	currentTokens := 0
	seq := 0

	for _, sentence := range sentences {
		sentenceTokens := c.counter.CountTokens(sentence)

		// 加入当前句将超限且缓冲非空时，封存当前分块
		if currentTokens+sentenceTokens > c.chunkSize && len(current) > 0 {
			chunks = append(chunks, c.buildChunk(current, filename, seq, currentTokens))
			current, currentTokens = c.overlapSeed(current)
			seq++
		}

		current = append(current, sentence)
		currentTokens += sentenceTokens
	}

	if len(current) > 0 {
		chunks = append(chunks, c.buildChunk(current, filename, seq, currentTokens))
	}

	return chunks
}

// overlapSeed 从刚封存的分块尾部倒序取整句，直到达到重叠 token 目标。
// 目标上限是 min(chunkOverlap, chunkSize/2)，句子不可拆分。
func (c *Chunker) overlapSeed(previous []string) ([]string, int) {
	if len(previous) == 0 {
		return nil, 0
	}

	target := c.chunkOverlap
	if half := c.chunkSize / 2; target > half {
		target = half
	}

	var seed []string
	seedTokens := 0
	for i := len(previous) - 1; i >= 0; i-- {
		sentenceTokens := c.counter.CountTokens(previous[i])
		if seedTokens+sentenceTokens > target {
			break
		}
		seed = append([]string{previous[i]}, seed...)
		seedTokens += sentenceTokens
	}
	return seed, seedTokens
}

func (c *Chunker) buildChunk(sentences []string, filename string, seq, tokenCount int) model.Chunk {
	text := strings.Join(sentences, " ")
	return model.Chunk{
		ID:            fmt.Sprintf("%s_%d", filename, seq),
		Text:          text,
		Filename:      filename,
		SequenceIndex: seq,
		TokenCount:    tokenCount,
		Metadata: map[string]interface{}{
			"source":      filename,
			"chunk_id":    seq,
			"token_count": tokenCount,
		},
	}
}
