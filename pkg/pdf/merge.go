package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
	"github.com/jung-kurt/gofpdf/contrib/gofpdi"
)

// ErrNothingToMerge is returned when none of the documents could be imported
var ErrNothingToMerge = errors.New("no importable documents")

// Merge puts page 1 of every document on its own page of a new PDF, each at
// its original MediaBox size. Documents that fail to import are left out and
// their indexes returned in skipped.
func Merge(docs [][]byte, opts Options) (out []byte, skipped []int, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, skipped = nil, nil
			err = fmt.Errorf("merge documents: %v", r)
		}
	}()

	doc := gofpdf.New("P", "pt", "A4", "")
	doc.SetCompression(opts.Compress)
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)

	importer := gofpdi.NewImporter()
	// the importer keys sources by stream address, so every stream stays
	// referenced until output
	streams := make([]*io.ReadSeeker, 0, len(docs))
	pages := 0

	for i, b := range docs {
		if _, _, err := PageSize(b); err != nil {
			skipped = append(skipped, i)
			continue
		}

		rs := io.ReadSeeker(bytes.NewReader(b))
		streams = append(streams, &rs)
		tpl := importer.ImportPageFromStream(doc, &rs, 1, "/MediaBox")
		box := importer.GetPageSizes()[1]["/MediaBox"]
		w, h := box["w"], box["h"]

		doc.AddPageFormat("P", gofpdf.SizeType{Wd: w, Ht: h})
		importer.UseImportedTemplate(doc, tpl, 0, 0, w, h)
		pages++
	}
	if pages == 0 {
		return nil, skipped, ErrNothingToMerge
	}
	if err := doc.Error(); err != nil {
		return nil, nil, fmt.Errorf("merge documents: %w", err)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), skipped, nil
}

// PageSize returns the MediaBox size of page 1
func PageSize(b []byte) (w, h float64, err error) {
	if len(b) == 0 {
		return 0, 0, errors.New("document is empty")
	}
	defer func() {
		if r := recover(); r != nil {
			w, h = 0, 0
			err = fmt.Errorf("read document: %v", r)
		}
	}()

	importer := gofpdi.NewImporter()
	rs := io.ReadSeeker(bytes.NewReader(b))
	importer.ImportPageFromStream(gofpdf.New("P", "pt", "A4", ""), &rs, 1, "/MediaBox")

	box, ok := importer.GetPageSizes()[1]["/MediaBox"]
	if !ok || box["w"] <= 0 || box["h"] <= 0 {
		return 0, 0, errors.New("document has no usable MediaBox on page 1")
	}
	return box["w"], box["h"], nil
}
