package vectorstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"med-rag-go/internal/model"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bulkStubTransport 拦截 ES 客户端的 HTTP 请求，按调用次数返回预设响应。
// failOnCall 为 0 时全部成功，否则从第 failOnCall 次调用起返回 500。
type bulkStubTransport struct {
	failOnCall int
	calls      int
	bodies     []string
}

func (t *bulkStubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.calls++
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		t.bodies = append(t.bodies, string(b))
	}

	header := http.Header{}
	header.Set("X-Elastic-Product", "Elasticsearch")
	header.Set("Content-Type", "application/json")

	if t.failOnCall != 0 && t.calls >= t.failOnCall {
		return &http.Response{
			StatusCode: http.StatusInternalServerError,
			Header:     header,
			Body:       io.NopCloser(strings.NewReader(`{"error":{"reason":"bulk rejected"}}`)),
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(`{"errors":false,"items":[]}`)),
	}, nil
}

func newStubStore(t *testing.T, transport *bulkStubTransport) Store {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Transport: transport})
	require.NoError(t, err)
	return NewESStore(client, "test_vectors")
}

func makeRecords(n int) []model.VectorRecord {
	records := make([]model.VectorRecord, n)
	for i := range records {
		records[i] = model.VectorRecord{
			VectorID:    fmt.Sprintf("vec_%d", i),
			Filename:    "guide.pdf",
			ChunkSeq:    i,
			TextContent: "chunk text",
			Vector:      []float32{0.1, 0.2, 0.3},
		}
	}
	return records
}

func TestUpsert_SplitsIntoSubBatches(t *testing.T) {
	transport := &bulkStubTransport{}
	store := newStubStore(t, transport)

	committed, err := store.Upsert(context.Background(), makeRecords(250), "ns")

	require.NoError(t, err)
	assert.Equal(t, 250, committed)
	// 250 条按 100 条一批拆成 3 次 bulk 请求
	require.Equal(t, 3, transport.calls)
	// NDJSON 每条记录两行（元数据行 + 文档行）
	assert.Equal(t, 200, strings.Count(transport.bodies[0], "\n"))
	assert.Equal(t, 200, strings.Count(transport.bodies[1], "\n"))
	assert.Equal(t, 100, strings.Count(transport.bodies[2], "\n"))
}

// 子批失败中止剩余写入：已提交数只含成功的子批，不再发出后续请求。
func TestUpsert_FailedBatchAbortsRemainder(t *testing.T) {
	transport := &bulkStubTransport{failOnCall: 2}
	store := newStubStore(t, transport)

	committed, err := store.Upsert(context.Background(), makeRecords(250), "ns")

	require.Error(t, err)
	assert.Equal(t, 100, committed)
	assert.Equal(t, 2, transport.calls, "失败后不得继续写入剩余子批")
}

func TestUpsert_NamespaceRequired(t *testing.T) {
	transport := &bulkStubTransport{}
	store := newStubStore(t, transport)

	committed, err := store.Upsert(context.Background(), makeRecords(1), "")

	assert.ErrorIs(t, err, ErrNamespaceRequired)
	assert.Zero(t, committed)
	assert.Zero(t, transport.calls)
}

func TestUpsert_EmptyRecords(t *testing.T) {
	transport := &bulkStubTransport{}
	store := newStubStore(t, transport)

	committed, err := store.Upsert(context.Background(), nil, "ns")

	require.NoError(t, err)
	assert.Zero(t, committed)
	assert.Zero(t, transport.calls)
}
