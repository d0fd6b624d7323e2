package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbeddingClient 是 embedding.Client 的测试替身，
// 按文本首字母生成确定性向量。
type fakeEmbeddingClient struct {
	dims      int
	failAll   bool
	callCount int
	lastBatch []string
}

func (f *fakeEmbeddingClient) Dimensions() int { return f.dims }

func (f *fakeEmbeddingClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbeddingClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	f.callCount++
	f.lastBatch = texts
	if f.failAll {
		return nil, errors.New("embedding backend unavailable")
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dims)
		v[0] = float32(t[0])
		vectors[i] = v
	}
	return vectors, nil
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func TestEmbedBatch_LengthOrderAndZeroPlacement(t *testing.T) {
	client := &fakeEmbeddingClient{dims: 4}
	svc := NewEmbedService(client)

	inputs := []string{"alpha", "", "beta", "   \t", "gamma"}
	vectors := svc.EmbedBatch(context.Background(), inputs)

	require.Len(t, vectors, len(inputs))
	for _, v := range vectors {
		assert.Len(t, v, 4)
	}

	// 空白位置是零向量
	assert.True(t, isZeroVector(vectors[1]))
	assert.True(t, isZeroVector(vectors[3]))

	// 非空位置保持原始顺序
	assert.Equal(t, float32('a'), vectors[0][0])
	assert.Equal(t, float32('b'), vectors[2][0])
	assert.Equal(t, float32('g'), vectors[4][0])

	// 空白文本被过滤后才调用底层 API
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, client.lastBatch)
}

func TestEmbedBatch_AllWhitespaceSkipsBackend(t *testing.T) {
	client := &fakeEmbeddingClient{dims: 3}
	svc := NewEmbedService(client)

	vectors := svc.EmbedBatch(context.Background(), []string{"", "  ", "\n"})

	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.True(t, isZeroVector(v))
	}
	assert.Zero(t, client.callCount)
}

func TestEmbedBatch_BackendFailureDegradesToZeroVectors(t *testing.T) {
	client := &fakeEmbeddingClient{dims: 3, failAll: true}
	svc := NewEmbedService(client)

	vectors := svc.EmbedBatch(context.Background(), []string{"one", "two"})

	require.Len(t, vectors, 2)
	for _, v := range vectors {
		require.Len(t, v, 3)
		assert.True(t, isZeroVector(v))
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	client := &fakeEmbeddingClient{dims: 3}
	svc := NewEmbedService(client)

	vectors := svc.EmbedBatch(context.Background(), nil)
	assert.Empty(t, vectors)
	assert.Zero(t, client.callCount)
}

func TestEmbed_FailureDegradesToZeroVector(t *testing.T) {
	client := &fakeEmbeddingClient{dims: 5, failAll: true}
	svc := NewEmbedService(client)

	v := svc.Embed(context.Background(), "hello")
	require.Len(t, v, 5)
	assert.True(t, isZeroVector(v))
}

func TestEmbed_WhitespaceSkipsBackend(t *testing.T) {
	client := &fakeEmbeddingClient{dims: 5}
	svc := NewEmbedService(client)

	v := svc.Embed(context.Background(), "   ")
	assert.True(t, isZeroVector(v))
	assert.Zero(t, client.callCount)
}
