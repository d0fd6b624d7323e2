package chunker

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenCounter 基于 tiktoken BPE 编码计数，同一编码下计数可跨进程复现。
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter 按编码名（如 cl100k_base）加载计数器。
func NewTiktokenCounter(encodingName string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("加载 tiktoken 编码 %s 失败: %w", encodingName, err)
	}
	return &TiktokenCounter{encoding: enc}, nil
}

// CountTokens 返回文本的 token 数。
func (t *TiktokenCounter) CountTokens(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}
