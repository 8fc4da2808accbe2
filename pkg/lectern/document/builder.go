package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"os"
	"strings"
)

const emuPerInch = 914400

type packagePart struct {
	name string
	data []byte
}

// Builder assembles a minimal WordprocessingML document: headings,
// paragraphs, simple tables and inline PNG pictures.
type Builder struct {
	body   bytes.Buffer
	images [][]byte
}

// NewBuilder returns an empty document builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Title adds a document title (the "level 0" heading).
func (b *Builder) Title(text string) {
	b.writeParagraph("Title", text)
}

// Heading adds a heading. Level 0 is the title; levels above 2 are capped.
func (b *Builder) Heading(text string, level int) {
	switch {
	case level <= 0:
		b.Title(text)
	case level == 1:
		b.writeParagraph("Heading1", text)
	default:
		b.writeParagraph("Heading2", text)
	}
}

// Paragraph adds a body paragraph. Newlines become line breaks.
func (b *Builder) Paragraph(text string) {
	b.writeParagraph("", text)
}

// Picture embeds a PNG image scaled to the given width, keeping its aspect ratio.
func (b *Builder) Picture(png []byte, widthInches float64) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(png))
	if err != nil {
		return fmt.Errorf("decoding picture: %w", err)
	}
	if format != "png" {
		return fmt.Errorf("unsupported picture format %q", format)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return fmt.Errorf("picture has zero size")
	}

	b.images = append(b.images, png)
	n := len(b.images)
	cx := int64(widthInches * emuPerInch)
	cy := cx * int64(cfg.Height) / int64(cfg.Width)

	fmt.Fprintf(&b.body, `<w:p><w:r><w:drawing><wp:inline distT="0" distB="0" distL="0" distR="0">`+
		`<wp:extent cx="%d" cy="%d"/><wp:docPr id="%d" name="Picture %d"/>`+
		`<a:graphic xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">`+
		`<a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture">`+
		`<pic:pic xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture">`+
		`<pic:nvPicPr><pic:cNvPr id="%d" name="image%d.png"/><pic:cNvPicPr/></pic:nvPicPr>`+
		`<pic:blipFill><a:blip r:embed="rIdImage%d"/><a:stretch><a:fillRect/></a:stretch></pic:blipFill>`+
		`<pic:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="%d" cy="%d"/></a:xfrm>`+
		`<a:prstGeom prst="rect"><a:avLst/></a:prstGeom></pic:spPr>`+
		`</pic:pic></a:graphicData></a:graphic></wp:inline></w:drawing></w:r></w:p>`,
		cx, cy, n, n, n, n, n, cx, cy)
	return nil
}

// Save writes the document to path.
func (b *Builder) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating docx: %w", err)
	}
	if err := b.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteTo writes the zipped package to w.
func (b *Builder) WriteTo(w io.Writer) error {
	zw := zip.NewWriter(w)

	parts := []packagePart{
		{"[Content_Types].xml", []byte(contentTypesXML)},
		{"_rels/.rels", []byte(packageRelsXML)},
		{"word/styles.xml", []byte(stylesXML)},
		{"word/_rels/document.xml.rels", b.documentRels()},
		{"word/document.xml", b.documentXML()},
	}
	for i, img := range b.images {
		parts = append(parts, packagePart{fmt.Sprintf("word/media/image%d.png", i+1), img})
	}

	for _, p := range parts {
		fw, err := zw.Create(p.name)
		if err != nil {
			return fmt.Errorf("writing %s: %w", p.name, err)
		}
		if _, err := fw.Write(p.data); err != nil {
			return fmt.Errorf("writing %s: %w", p.name, err)
		}
	}
	return zw.Close()
}

func (b *Builder) writeParagraph(style, text string) {
	b.body.WriteString("<w:p>")
	if style != "" {
		fmt.Fprintf(&b.body, `<w:pPr><w:pStyle w:val="%s"/></w:pPr>`, style)
	}
	if text != "" {
		b.body.WriteString("<w:r>")
		for i, line := range strings.Split(text, "\n") {
			if i > 0 {
				b.body.WriteString("<w:br/>")
			}
			b.body.WriteString(`<w:t xml:space="preserve">`)
			xml.EscapeText(&b.body, []byte(line))
			b.body.WriteString("</w:t>")
		}
		b.body.WriteString("</w:r>")
	}
	b.body.WriteString("</w:p>")
}

func (b *Builder) documentXML() []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"` +
		` xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"` +
		` xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing"><w:body>`)
	buf.Write(b.body.Bytes())
	buf.WriteString(`<w:sectPr><w:pgSz w:w="11906" w:h="16838"/>` +
		`<w:pgMar w:top="1134" w:right="850" w:bottom="1134" w:left="1701" w:header="708" w:footer="708" w:gutter="0"/>` +
		`</w:sectPr></w:body></w:document>`)
	return buf.Bytes()
}

func (b *Builder) documentRels() []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	buf.WriteString(`<Relationship Id="rIdStyles" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>`)
	for i := range b.images {
		fmt.Fprintf(&buf, `<Relationship Id="rIdImage%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/image%d.png"/>`, i+1, i+1)
	}
	buf.WriteString(`</Relationships>`)
	return buf.Bytes()
}

const contentTypesXML = xml.Header + `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Default Extension="png" ContentType="image/png"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>` +
	`</Types>`

const packageRelsXML = xml.Header + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
	`</Relationships>`

const stylesXML = xml.Header + `<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
	`<w:docDefaults><w:rPrDefault><w:rPr><w:rFonts w:ascii="Calibri" w:hAnsi="Calibri" w:cs="Calibri" w:eastAsia="Calibri"/>` +
	`<w:sz w:val="22"/><w:lang w:val="ru-RU"/></w:rPr></w:rPrDefault>` +
	`<w:pPrDefault><w:pPr><w:spacing w:after="160" w:line="259" w:lineRule="auto"/></w:pPr></w:pPrDefault></w:docDefaults>` +
	`<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/><w:qFormat/></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Title"><w:name w:val="Title"/><w:basedOn w:val="Normal"/><w:next w:val="Normal"/><w:qFormat/>` +
	`<w:pPr><w:spacing w:after="240"/></w:pPr><w:rPr><w:sz w:val="52"/></w:rPr></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Heading1"><w:name w:val="heading 1"/><w:basedOn w:val="Normal"/><w:next w:val="Normal"/><w:qFormat/>` +
	`<w:pPr><w:keepNext/><w:spacing w:before="360" w:after="120"/><w:outlineLvl w:val="0"/></w:pPr><w:rPr><w:b/><w:color w:val="2F5496"/><w:sz w:val="32"/></w:rPr></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Heading2"><w:name w:val="heading 2"/><w:basedOn w:val="Normal"/><w:next w:val="Normal"/><w:qFormat/>` +
	`<w:pPr><w:keepNext/><w:spacing w:before="240" w:after="80"/><w:outlineLvl w:val="1"/></w:pPr><w:rPr><w:b/><w:color w:val="2F5496"/><w:sz w:val="26"/></w:rPr></w:style>` +
	`<w:style w:type="table" w:styleId="TableGrid"><w:name w:val="Table Grid"/><w:tblPr><w:tblBorders>` +
	`<w:top w:val="single" w:sz="4" w:space="0" w:color="auto"/><w:left w:val="single" w:sz="4" w:space="0" w:color="auto"/>` +
	`<w:bottom w:val="single" w:sz="4" w:space="0" w:color="auto"/><w:right w:val="single" w:sz="4" w:space="0" w:color="auto"/>` +
	`<w:insideH w:val="single" w:sz="4" w:space="0" w:color="auto"/><w:insideV w:val="single" w:sz="4" w:space="0" w:color="auto"/>` +
	`</w:tblBorders></w:tblPr></w:style>` +
	`</w:styles>`
