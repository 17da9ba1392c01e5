package biz

import (
	"strings"
	"unicode/utf8"
)

// sentenceEnders 句子终止符（中英文）
var sentenceEnders = []string{"。", "！", "？", ". ", "! ", "? ", ".\n", "!\n", "?\n"}

// SplitChunks 滑动窗口分块
// 块边界在重叠窗口内优先落在段落或句子边界，找不到才做硬切
// 返回的块顺序即索引顺序：第i个块就是chunk_index=i
func SplitChunks(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = 1024
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 8
	}

	if len(text) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			chunk := strings.TrimSpace(text[start:])
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		// 切点永远落rune起始，多字节字符不被硬切劈开
		end = snapRuneStart(text, end)
		if end <= start {
			end = start + size
			for end < len(text) && !utf8.RuneStart(text[end]) {
				end++
			}
		}

		// 在[end-overlap, end]窗口内回找边界
		cut := boundaryWithin(text, end-overlap, end)
		if cut <= start {
			cut = end
		}

		chunk := strings.TrimSpace(text[start:cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := snapRuneStart(text, cut-overlap)
		if next <= start {
			next = cut
		}
		start = next
	}

	return chunks
}

// snapRuneStart 把字节偏移回退到最近的rune起始
func snapRuneStart(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// boundaryWithin 在[lo, hi]内找最靠后的自然边界，返回切点；找不到返回hi
// 优先级：段落 > 句子 > 空白
func boundaryWithin(text string, lo, hi int) int {
	if lo < 0 {
		lo = 0
	}
	window := text[lo:hi]

	if idx := strings.LastIndex(window, "\n\n"); idx >= 0 {
		return lo + idx + 2
	}

	best := -1
	for _, ender := range sentenceEnders {
		if idx := strings.LastIndex(window, ender); idx >= 0 {
			end := idx + len(ender)
			if end > best {
				best = end
			}
		}
	}
	if best >= 0 {
		return lo + best
	}

	if idx := strings.LastIndexAny(window, " \t\n"); idx >= 0 {
		return lo + idx + 1
	}
	return hi
}
