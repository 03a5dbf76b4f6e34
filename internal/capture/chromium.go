// Package capture snapshots the rendered week page to a PNG with headless
// Chromium.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	appLog "familycal/internal/log"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultWidth   = 1280
	DefaultHeight  = 800
	DefaultTimeout = 30 * time.Second
)

// readySelector matches the week page root once the server has rendered it.
const readySelector = `#week[data-ready="true"]`

// Options defines one screenshot of the week page.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/week".
	URL string

	// OutputPath receives the PNG. Its directory is created if missing.
	OutputPath string

	// Viewport in pixels.
	Width  int
	Height int

	// Timeout bounds the whole capture including browser start-up.
	Timeout time.Duration
}

func (o *Options) applyDefaults() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// WeekPNG navigates headless Chromium to opts.URL, waits for the week grid
// to report data-ready="true" and writes a screenshot of the full page.
//
// The file is replaced atomically so /preview.png never serves a partial
// image.
func WeekPNG(parent context.Context, opts Options) error {
	if err := opts.applyDefaults(); err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parent)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	started := time.Now()
	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		// Let web fonts settle.
		chromedp.Sleep(300 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := writeFileAtomic(opts.OutputPath, png); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	appLog.Debug("week preview captured", "path", opts.OutputPath, "bytes", len(png), "elapsed", time.Since(started).String())
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".preview-*.png")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
