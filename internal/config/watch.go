package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// countriesDebounce coalesces the burst of events editors emit for one save.
const countriesDebounce = 25 * time.Millisecond

// CountriesWatcher re-reads the countries file after every change. Stop must
// be called to release the fsnotify handle.
type CountriesWatcher struct {
	path     string
	onChange func([]string)
	onError  func(error)

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for its goroutine to exit.
func (w *CountriesWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// WatchCountries delivers the current country list once, then again after
// every change to the file. A reload that fails keeps the previous list in
// place and is reported through onError.
func WatchCountries(ctx context.Context, path string, onChange func([]string), onError func(error)) (*CountriesWatcher, error) {
	if onChange == nil {
		return nil, errors.New("config: watch countries requires a change callback")
	}
	if path == "" {
		return nil, errors.New("config: no countries file configured for watching")
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve countries file: %w", err)
	}
	resolved = filepath.Clean(resolved)

	countries, err := LoadCountries(resolved)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch countries: %w", err)
	}
	// The parent directory is watched so replace-by-rename saves are seen.
	dir := filepath.Dir(resolved)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config: watch add %s: %w", dir, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &CountriesWatcher{
		path:     resolved,
		onChange: onChange,
		onError:  onError,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	onChange(countries)
	go w.loop(watchCtx, fsw)
	return w, nil
}

func (w *CountriesWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.done)
	defer func() {
		if err := fsw.Close(); err != nil {
			w.report(fmt.Errorf("config: watch countries close: %w", err))
		}
	}()

	timer := time.NewTimer(countriesDebounce)
	stopTimer(timer)
	defer stopTimer(timer)
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-pending:
			pending = nil
			w.reload()
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.report(fmt.Errorf("config: countries file %s removed", w.path))
			}
			stopTimer(timer)
			timer.Reset(countriesDebounce)
			pending = timer.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.report(fmt.Errorf("config: watch error: %w", err))
		}
	}
}

func (w *CountriesWatcher) reload() {
	countries, err := LoadCountries(w.path)
	if err != nil {
		w.report(err)
		return
	}
	w.onChange(countries)
}

func (w *CountriesWatcher) report(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}

// stopTimer stops t and drains a tick that already fired.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
