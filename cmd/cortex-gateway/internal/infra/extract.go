package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cortex/cmd/cortex-gateway/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// OCRClient 可选的OCR协作方，图片与扫描件委托给它
type OCRClient interface {
	Recognize(ctx context.Context, data []byte, mimeType string) (string, error)
}

// TextExtractor 内容提取器
// PDF、HTML、JSON与纯文本内建处理，图片类走OCR客户端
type TextExtractor struct {
	ocr OCRClient
	log *log.Helper
}

// NewTextExtractor 创建提取器，ocr可为nil
func NewTextExtractor(ocr OCRClient, logger log.Logger) domain.ContentExtractor {
	return &TextExtractor{ocr: ocr, log: log.NewHelper(logger)}
}

// Extract 按MIME类型提取纯文本
func (e *TextExtractor) Extract(ctx context.Context, data []byte, mimeType string, cfg *domain.ExtractConfig) (string, error) {
	if len(data) == 0 {
		return "", nil
	}

	mime := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	switch {
	case mime == "application/pdf":
		return e.extractPDF(data)
	case mime == "text/html", mime == "application/xhtml+xml":
		return extractHTML(data)
	case mime == "application/json":
		return extractJSON(data)
	case strings.HasPrefix(mime, "text/"), mime == "":
		return string(data), nil
	case strings.HasPrefix(mime, "image/"):
		if cfg != nil && cfg.OCRIfNeeded && e.ocr != nil {
			return e.ocr.Recognize(ctx, data, mime)
		}
		return "", fmt.Errorf("cannot extract text from %s without OCR", mime)
	default:
		return "", fmt.Errorf("unsupported content type %s", mime)
	}
}

// extractPDF 逐页取纯文本
func (e *TextExtractor) extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			e.log.Warnf("failed to extract pdf page %d: %v", pageNum, err)
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

// extractHTML 剥标签取文本节点，script/style丢弃
func extractHTML(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String()), nil
}

// extractJSON 摊平所有字符串叶子
func extractJSON(data []byte) (string, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}

	var sb strings.Builder
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if strings.TrimSpace(t) != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
		case map[string]any:
			for _, nested := range t {
				walk(nested)
			}
		case []any:
			for _, nested := range t {
				walk(nested)
			}
		}
	}
	walk(value)
	return strings.TrimSpace(sb.String()), nil
}
