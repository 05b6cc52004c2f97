package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// DocxExtractor reads paragraphs and tables from word/document.xml.
type DocxExtractor struct{}

type docxDocument struct {
	Body docxBody `xml:"body"`
}

// docxBody keeps paragraphs and tables in document order.
type docxBody struct {
	Items []docxBlock `xml:",any"`
}

type docxBlock struct {
	XMLName xml.Name
	Runs    []docxRun  `xml:"r"`
	Rows    []docxRow  `xml:"tr"`
	Links   []docxLink `xml:"hyperlink"`
}

type docxLink struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
	Tabs []struct{} `xml:"tab"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paragraphs []docxBlock `xml:"p"`
}

type docxCore struct {
	Title   string `xml:"title"`
	Creator string `xml:"creator"`
	Subject string `xml:"subject"`
	Created string `xml:"created"`
}

func (e *DocxExtractor) Extract(_ context.Context, src Source) (*Result, error) {
	archive, err := zip.NewReader(bytes.NewReader(src.Data), int64(len(src.Data)))
	if err != nil {
		return nil, fmt.Errorf("open docx archive: %w", err)
	}
	var doc docxDocument
	found := false
	var core docxCore
	for _, f := range archive.File {
		switch f.Name {
		case "word/document.xml":
			if err := decodeZipXML(f, &doc); err != nil {
				return nil, fmt.Errorf("parse document.xml: %w", err)
			}
			found = true
		case "docProps/core.xml":
			// core properties are optional; a broken file only loses metadata
			_ = decodeZipXML(f, &core)
		}
	}
	if !found {
		return nil, fmt.Errorf("docx archive has no word/document.xml")
	}
	parts := make([]string, 0, len(doc.Body.Items))
	paragraphs, tables := 0, 0
	for i := range doc.Body.Items {
		block := &doc.Body.Items[i]
		switch block.XMLName.Local {
		case "p":
			if text := strings.TrimSpace(block.text()); text != "" {
				parts = append(parts, text)
				paragraphs++
			}
		case "tbl":
			tables++
			if text := tableText(block.Rows); text != "" {
				parts = append(parts, text)
			}
		}
	}
	meta := map[string]any{
		MetaFileType:      TypeDocx,
		"paragraph_count": paragraphs,
		"table_count":     tables,
	}
	props := map[string]string{}
	for key, value := range map[string]string{
		"title":   core.Title,
		"author":  core.Creator,
		"subject": core.Subject,
		"created": core.Created,
	} {
		if v := strings.TrimSpace(value); v != "" {
			props[key] = v
		}
	}
	if len(props) > 0 {
		meta["docx_metadata"] = props
	}
	return &Result{Text: strings.Join(parts, "\n\n"), Metadata: meta}, nil
}

func (b *docxBlock) text() string {
	var sb strings.Builder
	writeRuns(&sb, b.Runs)
	for _, link := range b.Links {
		writeRuns(&sb, link.Runs)
	}
	return sb.String()
}

func writeRuns(sb *strings.Builder, runs []docxRun) {
	for _, r := range runs {
		for range r.Tabs {
			sb.WriteByte('\t')
		}
		for _, t := range r.Text {
			sb.WriteString(t.Content)
		}
	}
}

func tableText(rows []docxRow) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, 0, len(row.Cells))
		nonEmpty := false
		for _, cell := range row.Cells {
			texts := make([]string, 0, len(cell.Paragraphs))
			for i := range cell.Paragraphs {
				if t := strings.TrimSpace(cell.Paragraphs[i].text()); t != "" {
					texts = append(texts, t)
				}
			}
			value := strings.Join(texts, " ")
			if value != "" {
				nonEmpty = true
			}
			cells = append(cells, value)
		}
		if nonEmpty {
			lines = append(lines, strings.Join(cells, " | "))
		}
	}
	return strings.Join(lines, "\n")
}

func decodeZipXML(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(io.LimitReader(rc, 64<<20)).Decode(v)
}
