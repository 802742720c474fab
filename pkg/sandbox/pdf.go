package sandbox

import (
	"strings"

	gopdf "github.com/ledongthuc/pdf"
	"github.com/jg-phare/gshell/pkg/types"
)

// readPDF extracts the plain text of every page of the PDF at path,
// joined in page order. Unlike a general-purpose reader this returns raw
// text with no line numbering or page-range selection: Read returns the
// whole file as a single string regardless of its format.
func readPDF(path string) (string, error) {
	f, reader, err := gopdf.Open(path)
	if err != nil {
		return "", types.Wrap(types.KindIOFailure, "open pdf", err)
	}
	defer f.Close()

	var b strings.Builder
	for p := 1; p <= reader.NumPage(); p++ {
		page := reader.Page(p)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
	}
	return b.String(), nil
}
