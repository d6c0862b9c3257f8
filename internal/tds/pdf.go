package tds

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

var errNotPDF = errors.New("document is not a pdf")

// PDFLines returns the document's text as lines in reading order: pages in
// sequence, rows top to bottom, words left to right. The pdf reader panics
// on some malformed files, so panics are turned into errors.
func PDFLines(data []byte) (lines []string, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF")) {
		return nil, errNotPDF
	}

	defer func() {
		if r := recover(); r != nil {
			lines = nil
			err = fmt.Errorf("failed to read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		for _, row := range groupRows(page.Content().Text) {
			if line := joinRow(row); line != "" {
				lines = append(lines, line)
			}
		}
	}

	return lines, nil
}

// groupRows clusters glyphs into rows by baseline. Glyphs arrive in stream
// order, one per character; fonts without width tables report the same X
// for every glyph of a string, so sorting is stable to keep that order.
func groupRows(texts []pdf.Text) [][]pdf.Text {
	type row struct {
		y     float64
		texts []pdf.Text
	}
	var rows []*row

	for _, t := range texts {
		tol := math.Max(1, t.FontSize*0.3)
		var target *row
		for _, r := range rows {
			if math.Abs(r.y-t.Y) <= tol {
				target = r
				break
			}
		}
		if target == nil {
			target = &row{y: t.Y}
			rows = append(rows, target)
		}
		target.texts = append(target.texts, t)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].y > rows[j].y })

	out := make([][]pdf.Text, 0, len(rows))
	for _, r := range rows {
		sort.SliceStable(r.texts, func(i, j int) bool { return r.texts[i].X < r.texts[j].X })
		out = append(out, r.texts)
	}
	return out
}

// joinRow concatenates text runs, inserting a space where the horizontal gap
// between runs is wider than a fraction of the font size.
func joinRow(texts []pdf.Text) string {
	var b strings.Builder
	var prevEnd float64
	for i, t := range texts {
		if i > 0 {
			gap := t.X - prevEnd
			if gap > t.FontSize*0.2 && !strings.HasSuffix(b.String(), " ") && !strings.HasPrefix(t.S, " ") {
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.S)
		prevEnd = t.X + t.W
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
