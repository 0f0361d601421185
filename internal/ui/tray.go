package ui

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/clipstudio/clipstudio-agent/internal/jobs"
	"github.com/clipstudio/clipstudio-agent/internal/render"
)

// Exports is the part of the export service the tray drives.
type Exports interface {
	Active() []*jobs.Export
	Cancel(ctx context.Context, id string) error
	Subscribe() (<-chan jobs.Export, func())
}

type Tray struct {
	exports   Exports
	outputDir string
	logger    *slog.Logger

	statusItem *systray.MenuItem
	lastItem   *systray.MenuItem
	cancelItem *systray.MenuItem

	mu sync.Mutex

	onQuit func()
	done   chan struct{}
}

type TrayConfig struct {
	Exports   Exports
	OutputDir string
	Logger    *slog.Logger
	OnQuit    func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		exports:   cfg.Exports,
		outputDir: cfg.OutputDir,
		logger:    cfg.Logger,
		onQuit:    cfg.OnQuit,
		done:      make(chan struct{}),
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	if iconBytes != nil {
		systray.SetIcon(iconBytes)
	}
	systray.SetTitle("Clipstudio")
	systray.SetTooltip("Clipstudio Agent")

	t.statusItem = systray.AddMenuItem(statusTitle(nil), "Current export")
	t.statusItem.Disable()

	t.lastItem = systray.AddMenuItem("Last export: none", "Most recent finished export")
	t.lastItem.Disable()

	systray.AddSeparator()

	t.cancelItem = systray.AddMenuItem("Cancel Export", "Cancel the running export")
	t.cancelItem.Disable()

	openItem := systray.AddMenuItem("Open Exports Folder", "Show exported files")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Clipstudio Agent")

	updates, unsubscribe := t.exports.Subscribe()
	t.refresh()

	go func() {
		defer unsubscribe()
		for {
			select {
			case e := <-updates:
				t.handleUpdate(e)
			case <-t.cancelItem.ClickedCh:
				t.cancelActive()
			case <-openItem.ClickedCh:
				if err := openFolder(t.outputDir); err != nil {
					t.logger.Error("failed to open exports folder", "error", err)
				}
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			case <-t.done:
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) handleUpdate(e jobs.Export) {
	if e.Finished() {
		t.mu.Lock()
		t.lastItem.SetTitle(lastTitle(&e))
		t.mu.Unlock()
	}
	t.refresh()
}

func (t *Tray) refresh() {
	active := t.exports.Active()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusItem.SetTitle(statusTitle(active))
	if len(active) > 0 {
		t.cancelItem.Enable()
	} else {
		t.cancelItem.Disable()
	}
}

func (t *Tray) cancelActive() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, e := range t.exports.Active() {
		if err := t.exports.Cancel(ctx, e.ID); err != nil {
			t.logger.Error("failed to cancel export", "export_id", e.ID, "error", err)
		}
	}
}

// Quit stops the update loop and removes the tray icon.
func (t *Tray) Quit() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	systray.Quit()
}

func statusTitle(active []*jobs.Export) string {
	switch len(active) {
	case 0:
		return "Status: Idle"
	case 1:
		e := active[0]
		name := e.Name
		if name == "" {
			name = e.ID[:min(8, len(e.ID))]
		}
		verb := "Rendering"
		if e.Status == render.StateEncoding {
			verb = "Encoding"
		}
		return fmt.Sprintf("%s %s: %.0f%%", verb, name, e.Progress)
	default:
		var sum float64
		for _, e := range active {
			sum += e.Progress
		}
		return fmt.Sprintf("Exporting %d files: %.0f%%", len(active), sum/float64(len(active)))
	}
}

func lastTitle(e *jobs.Export) string {
	name := e.Filename
	if name == "" {
		name = e.Name
	}
	switch e.Status {
	case render.StateDone:
		return "Last export: " + name
	case render.StateCancelled:
		return "Last export: cancelled"
	default:
		if e.ErrorKind != "" {
			return "Last export failed: " + string(e.ErrorKind)
		}
		return "Last export failed"
	}
}

func openCommand(goos, dir string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{dir}
	case "windows":
		return "explorer", []string{dir}
	default:
		return "xdg-open", []string{dir}
	}
}

func openFolder(dir string) error {
	name, args := openCommand(runtime.GOOS, dir)
	return exec.Command(name, args...).Start()
}
