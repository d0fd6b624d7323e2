package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordCounter 以空白分隔的词数作为 token 数，保证测试完全确定。
type wordCounter struct{}

func (wordCounter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

// makeSentence 生成一个恰好 n 个词、以句号结尾的句子。
func makeSentence(tag string, n int) string {
	words := make([]string, n)
	for i := 0; i < n-1; i++ {
		words[i] = fmt.Sprintf("%s%d", tag, i)
	}
	words[n-1] = "end."
	return strings.Join(words, " ")
}

func TestCleanText(t *testing.T) {
	t.Run("whitespace collapse", func(t *testing.T) {
		assert.Equal(t, "a b c", CleanText("a   b\n\n\tc"))
	})

	t.Run("page markers removed", func(t *testing.T) {
		assert.Equal(t, "before after", CleanText("before --- Page 12 --- after"))
	})

	t.Run("null bytes removed", func(t *testing.T) {
		assert.Equal(t, "ab", CleanText("a\x00b"))
	})

	t.Run("hyphen break joined", func(t *testing.T) {
		assert.Equal(t, "treatment plan", CleanText("treat-\nment plan"))
	})

	t.Run("ligatures expanded", func(t *testing.T) {
		assert.Equal(t, "efficient reflux", CleanText("eﬃcient reﬂux"))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, "", CleanText("   \n\t "))
	})
}

func TestSplitSentences(t *testing.T) {
	sentences := SplitSentences("First one. Second one! Third one? Fourth")
	require.Len(t, sentences, 4)
	assert.Equal(t, "First one.", sentences[0])
	assert.Equal(t, "Second one!", sentences[1])
	assert.Equal(t, "Third one?", sentences[2])
	assert.Equal(t, "Fourth", sentences[3])
}

func TestChunkText_Empty(t *testing.T) {
	c := New(400, 80, wordCounter{})
	assert.Empty(t, c.ChunkText("", "doc.pdf"))
	assert.Empty(t, c.ChunkText("   \n  ", "doc.pdf"))
}

func TestChunkText_SingleShortSentence(t *testing.T) {
	c := New(400, 80, wordCounter{})
	chunks := c.ChunkText("Aspirin reduces fever.", "doc.pdf")
	require.Len(t, chunks, 1)
	assert.Equal(t, "doc.pdf_0", chunks[0].ID)
	assert.Equal(t, 0, chunks[0].SequenceIndex)
	assert.Equal(t, 3, chunks[0].TokenCount)
}

func TestChunkText_SoftCap(t *testing.T) {
	// 每个分块的 token 数不得超过 chunkSize，除非该分块只含一个超长句子
	c := New(20, 5, wordCounter{})
	var sb strings.Builder
	for i := 0; i < 12; i++ {
		sb.WriteString(makeSentence("w", 7))
		sb.WriteString(" ")
	}
	chunks := c.ChunkText(sb.String(), "doc.pdf")
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		sentences := SplitSentences(ch.Text)
		if len(sentences) > 1 {
			assert.LessOrEqual(t, ch.TokenCount, 20, "多句分块不得超过软上限")
		}
	}
}

func TestChunkText_OversizedSentenceEmittedWhole(t *testing.T) {
	c := New(10, 3, wordCounter{})
	long := makeSentence("long", 25)
	chunks := c.ChunkText("Short lead. "+long+" Short tail.", "doc.pdf")
	require.Len(t, chunks, 3)
	// 超长句整句保留，不从句中截断；其所在分块带上前块的重叠句
	assert.Equal(t, "Short lead. "+long, chunks[1].Text)
	assert.Equal(t, 27, chunks[1].TokenCount)
	// 超长句无法作为重叠种子，后续分块从新句子重新开始
	assert.Equal(t, "Short tail.", chunks[2].Text)
}

func TestChunkText_OverlapProperty(t *testing.T) {
	counter := wordCounter{}
	c := New(40, 10, counter)
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString(makeSentence(fmt.Sprintf("s%d", i), 8))
		sb.WriteString(" ")
	}
	chunks := c.ChunkText(sb.String(), "doc.pdf")
	require.Greater(t, len(chunks), 1)

	target := 10 // min(10, 40/2)
	for i := 1; i < len(chunks); i++ {
		prev := SplitSentences(chunks[i-1].Text)
		cur := SplitSentences(chunks[i].Text)
		// 统计 B 开头与 A 结尾共享的整句序列
		shared := 0
		sharedTokens := 0
		for shared < len(cur) && shared < len(prev) {
			p := prev[len(prev)-1-shared]
			if cur[shared] != p {
				break
			}
			sharedTokens += counter.CountTokens(cur[shared])
			shared++
		}
		assert.LessOrEqual(t, sharedTokens, target, "重叠 token 数不得超过 min(overlap, size/2)")
	}
}

func TestChunkText_Determinism(t *testing.T) {
	c := New(30, 8, wordCounter{})
	var sb strings.Builder
	for i := 0; i < 15; i++ {
		sb.WriteString(makeSentence(fmt.Sprintf("d%d", i), 6))
		sb.WriteString(" ")
	}
	first := c.ChunkText(sb.String(), "doc.pdf")
	second := c.ChunkText(sb.String(), "doc.pdf")
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Text, second[i].Text)
		assert.Equal(t, first[i].TokenCount, second[i].TokenCount)
	}
}

func TestChunkText_SequentialIDs(t *testing.T) {
	c := New(20, 5, wordCounter{})
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		sb.WriteString(makeSentence(fmt.Sprintf("q%d", i), 7))
		sb.WriteString(" ")
	}
	chunks := c.ChunkText(sb.String(), "report.pdf")
	for i, ch := range chunks {
		assert.Equal(t, fmt.Sprintf("report.pdf_%d", i), ch.ID)
		assert.Equal(t, i, ch.SequenceIndex)
		assert.Equal(t, "report.pdf", ch.Filename)
		assert.Equal(t, i, ch.Metadata["chunk_id"])
	}
}

// 端到端场景：1000 token 的合成文档，chunk_size=400、overlap=80，
// 预期切出 3 块，第 2、3 块以前一块尾部句子开头。
func TestChunkText_ThousandTokenDocument(t *testing.T) {
	counter := wordCounter{}
	c := New(400, 80, counter)
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString(makeSentence(fmt.Sprintf("t%d", i), 50))
		sb.WriteString(" ")
	}
	chunks := c.ChunkText(sb.String(), "synthetic.pdf")
	require.Len(t, chunks, 3)

	for i := 1; i < len(chunks); i++ {
		prevSentences := SplitSentences(chunks[i-1].Text)
		curSentences := SplitSentences(chunks[i].Text)
		require.NotEmpty(t, curSentences)
		assert.Equal(t, prevSentences[len(prevSentences)-1], curSentences[0],
			"分块 %d 应以前一块的尾句开头", i)
	}
}
