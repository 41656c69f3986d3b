package importer

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"
)

// ErrChromiumMissing indicates no headless browser is installed; the live
// importer is unavailable but the rest of the service is unaffected.
var ErrChromiumMissing = fmt.Errorf("chromium not installed")

// LiveRenderer fetches the fully rendered markup of a deployed page through
// headless Chrome, so the importer sees the DOM the way a visitor's browser
// does rather than the raw server response.
type LiveRenderer struct {
	timeout time.Duration
}

func NewLiveRenderer() *LiveRenderer {
	return &LiveRenderer{timeout: 30 * time.Second}
}

// Render navigates to the URL and returns the document's outer HTML after
// the body is ready.
func (r *LiveRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	if _, err := exec.LookPath("chromium-browser"); err != nil {
		if _, fallbackErr := exec.LookPath("chromium"); fallbackErr != nil {
			return "", ErrChromiumMissing
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var html string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	return html, nil
}
