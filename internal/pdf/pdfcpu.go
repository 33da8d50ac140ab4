package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	pdfr "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog/log"
)

// PDFCPUEngine implements Engine on top of pdfcpu's file-based API. Inputs
// are staged in a per-operation temp directory that is removed when the
// operation returns.
type PDFCPUEngine struct {
	conf *model.Configuration
}

func NewEngine() *PDFCPUEngine {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFCPUEngine{conf: conf}
}

// stage creates a temp workspace holding the input document. The caller
// must invoke cleanup.
func stage(data []byte) (dir, inFile string, cleanup func(), err error) {
	dir, err = os.MkdirTemp("", "docflow-pdf-*")
	if err != nil {
		return "", "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup = func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Failed to remove PDF temp dir")
		}
	}

	inFile = filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(inFile, data, 0o600); err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("write temp input: %w", err)
	}
	return dir, inFile, cleanup, nil
}

func (e *PDFCPUEngine) Split(ctx context.Context, data []byte) ([][]byte, error) {
	dir, inFile, cleanup, err := stage(data)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	outDir := filepath.Join(dir, "pages")
	if err := os.Mkdir(outDir, 0o700); err != nil {
		return nil, fmt.Errorf("create split dir: %w", err)
	}

	if err := api.SplitFile(inFile, outDir, 1, e.conf); err != nil {
		return nil, fmt.Errorf("split document: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("list split pages: %w", err)
	}

	// pdfcpu names pages in_1.pdf, in_2.pdf, ... so lexical order breaks
	// past page 9.
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Slice(names, func(i, j int) bool {
		return pageNumber(names[i]) < pageNumber(names[j])
	})

	pages := make([][]byte, 0, len(names))
	for _, name := range names {
		page, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			return nil, fmt.Errorf("read split page %s: %w", name, err)
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func pageNumber(name string) int {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	idx := strings.LastIndexByte(base, '_')
	if idx < 0 {
		return 0
	}
	n, _ := strconv.Atoi(base[idx+1:])
	return n
}

func (e *PDFCPUEngine) Merge(ctx context.Context, parts [][]byte) ([]byte, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("merge: no input documents")
	}

	dir, err := os.MkdirTemp("", "docflow-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inFiles := make([]string, len(parts))
	for i, part := range parts {
		inFiles[i] = filepath.Join(dir, fmt.Sprintf("part_%d.pdf", i))
		if err := os.WriteFile(inFiles[i], part, 0o600); err != nil {
			return nil, fmt.Errorf("write merge input %d: %w", i, err)
		}
	}

	outFile := filepath.Join(dir, "merged.pdf")
	if err := api.MergeCreateFile(inFiles, outFile, false, e.conf); err != nil {
		return nil, fmt.Errorf("merge %d documents: %w", len(parts), err)
	}
	return os.ReadFile(outFile)
}

func (e *PDFCPUEngine) Watermark(ctx context.Context, data []byte, text string) ([]byte, error) {
	_, inFile, cleanup, err := stage(data)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	wm, err := api.TextWatermark(text, "scale:0.5 rel, opacity:0.4, rotation:45", true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("build watermark: %w", err)
	}

	outFile := inFile + ".out"
	if err := api.AddWatermarksFile(inFile, outFile, nil, wm, e.conf); err != nil {
		return nil, fmt.Errorf("apply watermark: %w", err)
	}
	return os.ReadFile(outFile)
}

func (e *PDFCPUEngine) Compress(ctx context.Context, data []byte) ([]byte, error) {
	_, inFile, cleanup, err := stage(data)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	outFile := inFile + ".out"
	if err := api.OptimizeFile(inFile, outFile, e.conf); err != nil {
		return nil, fmt.Errorf("optimize document: %w", err)
	}
	return os.ReadFile(outFile)
}

func (e *PDFCPUEngine) ExtractPages(ctx context.Context, data []byte, pages []string) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("extract pages: empty page selection")
	}

	_, inFile, cleanup, err := stage(data)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	outFile := inFile + ".out"
	if err := api.TrimFile(inFile, outFile, pages, e.conf); err != nil {
		return nil, fmt.Errorf("extract pages %v: %w", pages, err)
	}
	return os.ReadFile(outFile)
}

func (e *PDFCPUEngine) SinglePage(ctx context.Context, data []byte, page int) ([]byte, error) {
	if page < 1 {
		return nil, fmt.Errorf("single page: invalid page %d", page)
	}
	return e.ExtractPages(ctx, data, []string{strconv.Itoa(page)})
}

// Info reads document properties without pdfcpu; encrypted documents that
// cannot be opened still report their page count through pdfcpu's counter.
func (e *PDFCPUEngine) Info(ctx context.Context, data []byte) (*Metadata, error) {
	md := &Metadata{Version: headerVersion(data)}

	reader, err := pdfr.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		md.Encrypted = true
		_, inFile, cleanup, stageErr := stage(data)
		if stageErr != nil {
			return nil, stageErr
		}
		defer cleanup()

		count, countErr := api.PageCountFile(inFile)
		if countErr != nil {
			return nil, fmt.Errorf("read document info: %w", err)
		}
		md.PageCount = count
		return md, nil
	}

	md.PageCount = reader.NumPage()

	info := reader.Trailer().Key("Info")
	if !info.IsNull() {
		md.Title = info.Key("Title").Text()
		md.Author = info.Key("Author").Text()
		md.Subject = info.Key("Subject").Text()
		md.Producer = info.Key("Producer").Text()
	}
	if !reader.Trailer().Key("Encrypt").IsNull() {
		md.Encrypted = true
	}

	return md, nil
}

// headerVersion parses the "%PDF-1.x" header line.
func headerVersion(data []byte) string {
	const prefix = "%PDF-"
	if len(data) < len(prefix)+3 || !bytes.HasPrefix(data, []byte(prefix)) {
		return ""
	}
	rest := data[len(prefix):]
	end := bytes.IndexAny(rest, "\r\n ")
	if end < 0 || end > 8 {
		end = 3
	}
	return string(rest[:end])
}
