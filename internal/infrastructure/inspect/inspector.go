// Package inspect sniffs the real content type and page count of spooled files.
package inspect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

const mimePDF = "application/pdf"

type Inspector struct{}

func New() *Inspector {
	return &Inspector{}
}

// Inspect never trusts the client-declared content type. Page counting is
// best effort: an unreadable PDF still inspects, with Pages left at zero.
func (i *Inspector) Inspect(ctx context.Context, path, displayName string) (domain.SelectedFile, error) {
	if err := ctx.Err(); err != nil {
		return domain.SelectedFile{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return domain.SelectedFile{}, fmt.Errorf("stat file: %w", err)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return domain.SelectedFile{}, fmt.Errorf("detect mime type: %w", err)
	}

	name := displayName
	if name == "" {
		name = filepath.Base(path)
	}
	file := domain.SelectedFile{
		Name:     name,
		Size:     info.Size(),
		MimeType: mt.String(),
	}
	if mt.Is(mimePDF) {
		if pages, err := PageCount(path); err == nil {
			file.Pages = pages
		}
	}
	return file, nil
}

// PageCount reads the page tree of a PDF. The parser panics on some malformed
// cross-reference tables, so panics are reported as errors.
func PageCount(path string) (pages int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			pages, err = 0, fmt.Errorf("parse pdf: %v", rec)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return r.NumPage(), nil
}
