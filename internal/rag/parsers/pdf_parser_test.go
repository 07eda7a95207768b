package parsers

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF 生成每页一行文本的最小 PDF
func buildPDF(pages ...string) []byte {
	var objects []string
	// 1: catalog, 2: pages, 3: font, 之后每页两个对象（page + content）
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+i*2)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	for i, text := range pages {
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+i*2),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestPDFParserExtractsPagesInOrder(t *testing.T) {
	data := buildPDF("Section A intro", "Section B details", "Section C summary")

	text, err := NewPDFParser(nil).Extract(context.Background(), data)
	require.NoError(t, err)

	a := strings.Index(text, "Section A")
	b := strings.Index(text, "Section B")
	c := strings.Index(text, "Section C")
	require.True(t, a >= 0 && b > a && c > b, "unexpected text %q", text)
	assert.GreaterOrEqual(t, strings.Count(text, "\n\n"), 2)
}

func TestPDFParserRejectsNonPDF(t *testing.T) {
	_, err := NewPDFParser(nil).Extract(context.Background(), []byte("PK\x03\x04 this is a zip"))
	require.ErrorIs(t, err, ErrCorruptDocument)
}

func TestPDFParserRejectsTruncatedPDF(t *testing.T) {
	data := buildPDF("hello")
	_, err := NewPDFParser(nil).Extract(context.Background(), data[:40])
	require.ErrorIs(t, err, ErrCorruptDocument)
}

func TestPDFParserBlankPageIsEmpty(t *testing.T) {
	_, err := NewPDFParser(nil).WithoutValidation().Extract(context.Background(), buildPDF(""))
	require.ErrorIs(t, err, ErrEmptyDocument)
}

// 第二页内容流里的字符串字面量没有闭合，文件长度与 xref 偏移保持不变
func unterminatedLiteralPDF() []byte {
	data := buildPDF("Section A text", "Section B text", "Section C text")
	return bytes.Replace(data, []byte("(Section B text)"), []byte("(Section B(text)"), 1)
}

func TestPDFParserRejectsUnterminatedStringLiteral(t *testing.T) {
	data := unterminatedLiteralPDF()
	require.Len(t, data, len(buildPDF("Section A text", "Section B text", "Section C text")))
	require.True(t, bytes.Contains(data, []byte("(Section B(text) Tj")))

	_, err := NewPDFParser(nil).Extract(context.Background(), data)
	require.ErrorIs(t, err, ErrCorruptDocument)
	assert.Contains(t, err.Error(), "page 2")

	_, err = NewPDFParser(nil).WithoutValidation().Extract(context.Background(), data)
	require.ErrorIs(t, err, ErrCorruptDocument)
}

func TestScanStringLiterals(t *testing.T) {
	cases := []struct {
		name    string
		content string
		ok      bool
	}{
		{"plain", "BT (hello) Tj ET", true},
		{"nested balanced", "BT (a (b) c) Tj ET", true},
		{"escaped paren", `BT (a \( b) Tj ET`, true},
		{"escaped backslash", `BT (a \\) Tj ET`, true},
		{"comment", "% (not a string\nBT (x) Tj ET", true},
		{"hex string", "BT <48656c6c6f> Tj ET", true},
		{"inline image", "BI /W 1 /H 1 ID \x28\x28\x28 EI\nBT (x) Tj ET", true},
		{"unterminated", "BT (Section B(text) Tj ET", false},
		{"unterminated at end", "BT (abc", false},
		{"inline image without end", "BI /W 1 ID ((( ", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := scanStringLiterals([]byte(tc.content))
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
