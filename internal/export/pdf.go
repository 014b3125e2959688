package export

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const pdfTimeout = 30 * time.Second

// paper sizes are in inches.
type paper struct {
	width, height, margin float64
}

var a4 = paper{width: 8.27, height: 11.69, margin: 0.6}

var chromeBinaries = []string{"chromium-browser", "chromium", "google-chrome"}

func chromeInstalled() bool {
	for _, bin := range chromeBinaries {
		if _, err := exec.LookPath(bin); err == nil {
			return true
		}
	}
	return false
}

// exportPDF prints a contract page with headless Chrome. The page is written
// into a blank frame, so contracts larger than a data URL still print.
func exportPDF(parent context.Context, html, title string) (*Result, error) {
	if !chromeInstalled() {
		return nil, fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
	}

	ctx, cancel := context.WithTimeout(parent, pdfTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	var data []byte
	err := chromedp.Run(taskCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("frame tree: %w", err)
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			data, _, err = printParams(a4).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chrome pdf generation failed: %w", err)
	}

	return &Result{
		Data:     data,
		Filename: filename(title, "pdf"),
		MimeType: "application/pdf",
	}, nil
}

func printParams(p paper) *page.PrintToPDFParams {
	return page.PrintToPDF().
		WithPrintBackground(true).
		WithPaperWidth(p.width).
		WithPaperHeight(p.height).
		WithMarginTop(p.margin).
		WithMarginBottom(p.margin).
		WithMarginLeft(p.margin).
		WithMarginRight(p.margin).
		WithPreferCSSPageSize(true)
}

const maxStem = 50

// filename builds a download name from a contract title. Letters, digits,
// dashes and underscores survive; spaces become dashes.
func filename(title, ext string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	stem := b.String()
	if len(stem) > maxStem {
		stem = stem[:maxStem]
	}
	if stem == "" {
		stem = "contract"
	}
	return stem + "." + ext
}
