package parsers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dslipak/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

var disableConfigDir sync.Once

// maxContentStream 单页解码后内容流的上限
const maxContentStream = 32 << 20

// PDFParser PDF 文本提取器
// pdfcpu 负责结构校验与页数，dslipak/pdf 负责逐页取文本
type PDFParser struct {
	logger   *zap.Logger
	validate bool
}

// NewPDFParser 创建 PDF 解析器
func NewPDFParser(logger *zap.Logger) *PDFParser {
	disableConfigDir.Do(api.DisableConfigDir)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFParser{logger: logger, validate: true}
}

// WithoutValidation 跳过 pdfcpu 校验，仅用 dslipak/pdf 解析
func (p *PDFParser) WithoutValidation() *PDFParser {
	cp := *p
	cp.validate = false
	return &cp
}

// Extract 按页序提取文本，页与页之间用空行分隔
func (p *PDFParser) Extract(ctx context.Context, data []byte) (text string, err error) {
	// dslipak/pdf 对畸形对象会 panic
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrCorruptDocument, r)
		}
	}()

	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return "", fmt.Errorf("%w: missing %%PDF header", ErrCorruptDocument)
	}

	if p.validate {
		pages, err := p.pageCount(data)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCorruptDocument, err)
		}
		if pages == 0 {
			return "", fmt.Errorf("%w: zero pages", ErrEmptyDocument)
		}
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	numPages := r.NumPage()
	if numPages == 0 {
		return "", fmt.Errorf("%w: zero pages", ErrEmptyDocument)
	}

	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		// 未闭合的字符串字面量会让 GetPlainText 无限分配内存，必须先拦截
		if err := checkContent(page.V.Key("Contents")); err != nil {
			return "", fmt.Errorf("%w: page %d: %v", ErrCorruptDocument, i, err)
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			p.logger.Warn("解析 PDF 页面失败", zap.Int("page", i), zap.Error(err))
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) == 0 {
		return "", ErrEmptyDocument
	}
	return strings.Join(pages, "\n\n"), nil
}

func (p *PDFParser) pageCount(data []byte) (n int, err error) {
	// pdfcpu 对部分畸形输入会 panic
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu: %v", r)
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(bytes.NewReader(data), conf)
}

// checkContent 读取页面内容流并做词法检查
func checkContent(contents pdf.Value) error {
	var streams []pdf.Value
	switch contents.Kind() {
	case pdf.Null:
		return nil
	case pdf.Stream:
		streams = append(streams, contents)
	case pdf.Array:
		for i := 0; i < contents.Len(); i++ {
			streams = append(streams, contents.Index(i))
		}
	default:
		return fmt.Errorf("unexpected /Contents of kind %v", contents.Kind())
	}

	var buf bytes.Buffer
	for _, s := range streams {
		if s.Kind() != pdf.Stream {
			return fmt.Errorf("content entry is not a stream")
		}
		rc := s.Reader()
		_, err := io.Copy(&buf, io.LimitReader(rc, maxContentStream+1-int64(buf.Len())))
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("read content stream: %w", err)
		}
		if int64(buf.Len()) > maxContentStream {
			return fmt.Errorf("content stream exceeds %d bytes", maxContentStream)
		}
		buf.WriteByte('\n')
	}
	return scanStringLiterals(buf.Bytes())
}

// scanStringLiterals 检查 (...) 字面量是否闭合，跳过注释与内联图像数据
func scanStringLiterals(b []byte) error {
	depth, start := 0, 0
	for i := 0; i < len(b); i++ {
		c := b[i]
		if depth > 0 {
			switch c {
			case '\\':
				i++
			case '(':
				depth++
			case ')':
				depth--
			}
			continue
		}
		switch {
		case c == '%':
			for i < len(b) && b[i] != '\n' && b[i] != '\r' {
				i++
			}
		case c == '(':
			depth, start = 1, i
		case c == 'I' && isInlineImageData(b, i):
			end := findInlineImageEnd(b, i+3)
			if end < 0 {
				return fmt.Errorf("inline image at offset %d has no EI", i)
			}
			i = end
		}
	}
	if depth > 0 {
		return fmt.Errorf("unterminated string literal at offset %d", start)
	}
	return nil
}

// isInlineImageData 判断 b[i:] 是否为独立的 ID 操作符
func isInlineImageData(b []byte, i int) bool {
	return i+2 < len(b) && b[i+1] == 'D' && isPDFSpace(b[i+2]) && (i == 0 || isPDFSpace(b[i-1]))
}

func findInlineImageEnd(b []byte, from int) int {
	for j := from; j+1 < len(b); j++ {
		if b[j] == 'E' && b[j+1] == 'I' && isPDFSpace(b[j-1]) && (j+2 == len(b) || isPDFSpace(b[j+2])) {
			return j + 1
		}
	}
	return -1
}

func isPDFSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}
