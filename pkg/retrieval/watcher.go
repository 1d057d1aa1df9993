package retrieval

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 500 * time.Millisecond

// CorpusWatcher calls onChange after any of a set of corpus files is
// written, created or removed. Bursts of events are debounced into one call.
type CorpusWatcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]bool
	logger   zerolog.Logger
	onChange func()
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewCorpusWatcher watches files. Their directories are watched rather than
// the files themselves so editors that replace files on save are seen.
func NewCorpusWatcher(files []string, logger zerolog.Logger, onChange func()) (*CorpusWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	cw := &CorpusWatcher{
		watcher:  watcher,
		files:    make(map[string]bool, len(files)),
		logger:   logger.With().Str("component", "corpus-watcher").Logger(),
		onChange: onChange,
		debounce: defaultDebounce,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			watcher.Close()
			return nil, err
		}
		cw.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go cw.run()
	return cw, nil
}

// Stop stops watching and cancels a pending callback.
func (cw *CorpusWatcher) Stop() error {
	var err error
	cw.stopOnce.Do(func() {
		close(cw.stopCh)
		err = cw.watcher.Close()
		<-cw.done

		cw.mu.Lock()
		if cw.timer != nil {
			cw.timer.Stop()
		}
		cw.mu.Unlock()
	})
	return err
}

func (cw *CorpusWatcher) run() {
	defer close(cw.done)
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !cw.files[abs] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				cw.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Corpus file change detected")
				cw.schedule()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error().Err(err).Msg("Corpus watcher error")

		case <-cw.stopCh:
			return
		}
	}
}

func (cw *CorpusWatcher) schedule() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.debounce, func() {
		select {
		case <-cw.stopCh:
			return
		default:
		}
		cw.onChange()
	})
}
