// Package pdftest builds small well-formed PDF documents for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
)

// Build returns a PDF with the given number of blank pages and top-level
// AcroForm text fields
func Build(pages, fields int) []byte {
	var objects []string

	// 1: catalog, 2: page tree, then pages, then fields
	firstPage := 3
	firstField := firstPage + pages

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", firstPage+i)
	}

	catalog := "<< /Type /Catalog /Pages 2 0 R"
	if fields > 0 {
		refs := make([]string, fields)
		for i := range refs {
			refs[i] = fmt.Sprintf("%d 0 R", firstField+i)
		}
		catalog += fmt.Sprintf(" /AcroForm << /Fields [%s] >>", strings.Join(refs, " "))
	}
	catalog += " >>"
	objects = append(objects, catalog)
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}
	for i := 0; i < fields; i++ {
		objects = append(objects, fmt.Sprintf("<< /FT /Tx /T (field_%d) /V (value %d) >>", i+1, i+1))
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

// Pages returns a PDF with the given number of blank pages
func Pages(n int) []byte {
	return Build(n, 0)
}
