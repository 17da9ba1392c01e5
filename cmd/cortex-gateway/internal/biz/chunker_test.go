package biz

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitChunks_ShortText(t *testing.T) {
	chunks := SplitChunks("hello world", 1024, 128)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0])
}

func TestSplitChunks_Empty(t *testing.T) {
	assert.Nil(t, SplitChunks("", 1024, 128))
	assert.Nil(t, SplitChunks("   \n\t  ", 1024, 128))
}

func TestSplitChunks_SentenceBoundary(t *testing.T) {
	// 两句话，窗口大小逼迫在第一句末尾切块
	text := "This is the first sentence of the document. This is the second one."
	chunks := SplitChunks(text, 50, 10)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "This is the first sentence of the document.", chunks[0])
}

func TestSplitChunks_ParagraphBoundary(t *testing.T) {
	text := strings.Repeat("a", 40) + "\n\n" + strings.Repeat("b", 40)
	chunks := SplitChunks(text, 50, 15)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, strings.Repeat("a", 40), chunks[0], "should cut at the paragraph break")
}

func TestSplitChunks_ChineseSentences(t *testing.T) {
	text := "第一句话在这里结束。第二句话紧跟其后。第三句话收尾。"
	chunks := SplitChunks(text, 40, 12)

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(c))
	}
}

func TestSplitChunks_HardCutWithoutBoundary(t *testing.T) {
	// 无任何空白与标点时退化为硬切
	text := strings.Repeat("x", 300)
	chunks := SplitChunks(text, 100, 20)

	require.GreaterOrEqual(t, len(chunks), 3)
	assert.Equal(t, strings.Repeat("x", 100), chunks[0])
}

func TestSplitChunks_CoversWholeText(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta. ", 50)
	chunks := SplitChunks(text, 120, 24)

	require.NotEmpty(t, chunks)
	// 重叠窗口保证拼接覆盖全文，末块必含文本尾部
	last := chunks[len(chunks)-1]
	assert.True(t, strings.HasSuffix(strings.TrimSpace(text), last))

	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 120)
	}
}

func TestSplitChunks_CJKHardCutKeepsValidUTF8(t *testing.T) {
	// 无标点无空白的中文，硬切点必须落在rune边界
	text := strings.Repeat("知识库", 100)
	chunks := SplitChunks(text, 64, 8)

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.True(t, utf8.ValidString(c), "chunk %d is not valid UTF-8: %q", i, c)
		assert.LessOrEqual(t, len(c), 64)
	}
}

func TestSplitChunks_CyrillicHardCutKeepsValidUTF8(t *testing.T) {
	text := strings.Repeat("данные", 80)
	chunks := SplitChunks(text, 50, 10)

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.True(t, utf8.ValidString(c), "chunk %d is not valid UTF-8: %q", i, c)
	}
}

func TestSplitChunks_DefaultsOnBadParams(t *testing.T) {
	text := strings.Repeat("word ", 100)
	assert.NotEmpty(t, SplitChunks(text, 0, -1))
	assert.NotEmpty(t, SplitChunks(text, 64, 64))
}
