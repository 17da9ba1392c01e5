package infra

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateText(t *testing.T) {
	t.Run("短文本原样返回", func(t *testing.T) {
		assert.Equal(t, "hello", truncateText("hello", 10))
	})

	t.Run("截断不超过上限", func(t *testing.T) {
		out := truncateText(strings.Repeat("a", 100), 32)
		assert.Len(t, out, 32)
	})

	t.Run("多字节字符不被劈开", func(t *testing.T) {
		text := strings.Repeat("知识库", 20)
		for max := 1; max < 16; max++ {
			out := truncateText(text, max)
			assert.True(t, utf8.ValidString(out), "max=%d produced invalid UTF-8: %q", max, out)
			assert.LessOrEqual(t, len(out), max)
		}
	})
}
