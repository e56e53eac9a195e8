package loader

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher invalidates a Loader when experiment documents change on disk.
type Watcher struct {
	loader   *Loader
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onChange func(names []string)

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]struct{}
}

// Watch starts watching the experiments directory. Bursts of events are
// collapsed into one callback after debounce; onChange receives the sorted
// names of the documents touched ("default" included). It may be nil.
func (l *Loader) Watch(ctx context.Context, debounce time.Duration, onChange func(names []string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(l.paths.Dir()); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		loader:   l,
		fsw:      fsw,
		debounce: debounce,
		onChange: onChange,
		cancel:   cancel,
		pending:  make(map[string]struct{}),
	}
	w.wg.Add(1)
	go w.loop(watchCtx)
	l.log.Info("watching experiments", zap.String("dir", l.paths.Dir()))
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsw.Close()
	w.wg.Wait()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name, ok := documentName(filepath.Base(event.Name))
			if !ok {
				continue
			}
			w.schedule(name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.loader.log.Warn("experiment watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	names := make([]string, 0, len(w.pending))
	for name := range w.pending {
		names = append(names, name)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	slices.Sort(names)
	w.loader.Invalidate()
	w.loader.log.Info("experiments changed", zap.Strings("names", names))
	if w.onChange != nil {
		w.onChange(names)
	}
}
