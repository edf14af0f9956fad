package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	log "github.com/sirupsen/logrus"
)

const defaultPDFTimeout = 30 * time.Second

// PDFConfig настраивает headless Chrome.
type PDFConfig struct {
	// RemoteURL: адрес DevTools внешнего Chrome. Пустой запускает локальный процесс.
	RemoteURL string
	Timeout   time.Duration
	NoSandbox bool
}

// PDFRenderer печатает HTML-документ в PDF формата A4.
type PDFRenderer struct {
	html        *HTMLRenderer
	timeout     time.Duration
	logger      *log.Entry
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewPDFRenderer создаёт allocator Chrome. Сам браузер стартует при первом Render.
func NewPDFRenderer(cfg PDFConfig, logger *log.Entry) (*PDFRenderer, error) {
	html, err := NewHTMLRenderer()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.WithField("component", "pdf-renderer")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPDFTimeout
	}

	r := &PDFRenderer{html: html, timeout: cfg.Timeout, logger: logger}
	if cfg.RemoteURL != "" {
		r.allocCtx, r.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-extensions", true),
			chromedp.Flag("font-render-hinting", "none"),
		)
		if cfg.NoSandbox {
			opts = append(opts, chromedp.Flag("no-sandbox", true))
		}
		r.allocCtx, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	return r, nil
}

// Render строит HTML по шаблону и печатает его в PDF.
func (r *PDFRenderer) Render(ctx context.Context, name string, data any) ([]byte, error) {
	doc, err := r.html.Render(ctx, name, data)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	browserCtx, browserCancel := chromedp.NewContext(r.allocCtx)
	defer browserCancel()
	// Дедлайн вызывающего переносим на вкладку браузера.
	stop := context.AfterFunc(ctx, browserCancel)
	defer stop()

	started := time.Now()
	var pdf []byte
	err = chromedp.Run(browserCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, string(doc)).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(mmToInches(210)).
				WithPaperHeight(mmToInches(297)).
				WithMarginTop(mmToInches(10)).
				WithMarginBottom(mmToInches(10)).
				WithMarginLeft(mmToInches(10)).
				WithMarginRight(mmToInches(10)).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = data
			return nil
		}),
	)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("render %s pdf: timed out after %s: %w", name, r.timeout, ctx.Err())
		}
		return nil, fmt.Errorf("render %s pdf: %w", name, err)
	}
	if len(pdf) == 0 {
		return nil, fmt.Errorf("render %s pdf: empty output", name)
	}

	r.logger.WithFields(log.Fields{
		"template": name,
		"bytes":    len(pdf),
		"duration": time.Since(started).String(),
	}).Debug("document rendered")
	return pdf, nil
}

// Close останавливает Chrome.
func (r *PDFRenderer) Close() error {
	if r.allocCancel != nil {
		r.allocCancel()
	}
	return nil
}

func mmToInches(mm float64) float64 {
	return mm / 25.4
}
