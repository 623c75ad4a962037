package converter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"docconvert/config"
	"docconvert/models"
	"docconvert/services"

	"github.com/google/uuid"
)

// PDFRenderer turns an office document on disk into a PDF next to it.
type PDFRenderer interface {
	ConvertToPDF(ctx context.Context, inputPath string) (string, error)
}

// renderFunc produces the output file for input inside the scratch dir.
type renderFunc func(ctx context.Context, input, dir string) (string, error)

// workspace runs one conversion: original artifact in, converted artifact
// out, with a scratch directory that is always removed.
type workspace struct {
	artifacts services.ArtifactStore
	tempDir   string
	newID     func() uuid.UUID
}

func (w *workspace) run(ctx context.Context, job *models.Job, target TargetFormat, render renderFunc) (string, error) {
	data, err := w.artifacts.Read(ctx, job.OriginalFilePath)
	if err != nil {
		return "", &models.StorageError{Op: "read original artifact", Err: err}
	}
	if len(data) == 0 {
		return "", models.NewConversionError("Original document %s is empty", job.OriginalFileName)
	}

	if err := os.MkdirAll(w.tempDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	dir, err := os.MkdirTemp(w.tempDir, "job-"+job.ID.String()+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "source."+strings.ToLower(job.OriginalFormat))
	if err := os.WriteFile(input, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write source file: %w", err)
	}

	output, err := render(ctx, input, dir)
	if err != nil {
		return "", &models.ConversionError{
			Message: fmt.Sprintf("Failed to convert %s to %s", job.OriginalFormat, target),
			Err:     err,
		}
	}
	converted, err := os.ReadFile(output)
	if err != nil || len(converted) == 0 {
		return "", models.NewConversionError("Conversion of %s to %s produced no output", job.OriginalFormat, target)
	}

	name := fmt.Sprintf("converted-%s.%s", w.newID(), target.Extension())
	ref, err := w.artifacts.Store(ctx, converted, name)
	if err != nil {
		return "", &models.StorageError{Op: "store converted artifact", Err: err}
	}
	return ref, nil
}

// PDFToPNG renders the first page with pdftoppm.
type PDFToPNG struct {
	ws     *workspace
	runner services.CommandRunner
	bin    string
	dpi    int
}

func (c *PDFToPNG) Convert(ctx context.Context, job *models.Job) (string, error) {
	return c.ws.run(ctx, job, TargetPNG, func(ctx context.Context, input, dir string) (string, error) {
		prefix := filepath.Join(dir, "page")
		err := c.runner.Run(ctx, c.bin,
			"-png",
			"-r", strconv.Itoa(c.dpi),
			"-f", "1", "-l", "1",
			"-singlefile",
			input, prefix,
		)
		if err != nil {
			return "", err
		}
		return prefix + ".png", nil
	})
}

// PDFToWord imports the PDF into LibreOffice Writer and exports a .docx.
type PDFToWord struct {
	ws     *workspace
	runner services.CommandRunner
	bin    string
}

func (c *PDFToWord) Convert(ctx context.Context, job *models.Job) (string, error) {
	return c.ws.run(ctx, job, TargetWord, func(ctx context.Context, input, dir string) (string, error) {
		err := c.runner.Run(ctx, c.bin,
			"--headless",
			"-env:UserInstallation=file://"+filepath.ToSlash(filepath.Join(dir, "profile")),
			"--infilter=writer_pdf_import",
			"--convert-to", "docx",
			"--outdir", dir,
			input,
		)
		if err != nil {
			return "", err
		}
		return strings.TrimSuffix(input, filepath.Ext(input)) + ".docx", nil
	})
}

// OfficeToPDF sends office documents through Gotenberg.
type OfficeToPDF struct {
	ws       *workspace
	renderer PDFRenderer
}

func (c *OfficeToPDF) Convert(ctx context.Context, job *models.Job) (string, error) {
	return c.ws.run(ctx, job, TargetPDF, func(ctx context.Context, input, _ string) (string, error) {
		return c.renderer.ConvertToPDF(ctx, input)
	})
}

// DefaultRegistry wires every supported pair.
func DefaultRegistry(cfg *config.Config, artifacts services.ArtifactStore, runner services.CommandRunner, renderer PDFRenderer) *Registry {
	ws := &workspace{artifacts: artifacts, tempDir: cfg.TempDir, newID: uuid.New}
	office := &OfficeToPDF{ws: ws, renderer: renderer}

	return NewRegistry(map[Pair]Converter{
		{Source: SourcePDF, Target: TargetPNG}:  &PDFToPNG{ws: ws, runner: runner, bin: cfg.PdftoppmBin, dpi: cfg.RenderDPI},
		{Source: SourcePDF, Target: TargetWord}: &PDFToWord{ws: ws, runner: runner, bin: cfg.SofficeBin},
		{Source: SourceDOC, Target: TargetPDF}:  office,
		{Source: SourceDOCX, Target: TargetPDF}: office,
		{Source: SourceODT, Target: TargetPDF}:  office,
		{Source: SourceRTF, Target: TargetPDF}:  office,
	})
}
