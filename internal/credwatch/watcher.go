package credwatch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/aatn/firegate/internal/config"
)

// defaultDebounce is the quiet period after the last credentials file event
// before the handle is recycled. Key rotation tooling often writes the file
// in several steps.
const defaultDebounce = 2 * time.Second

// HandleRecycler is the slice of the connection manager the watcher needs.
type HandleRecycler interface {
	Initialize(ctx context.Context) error
	Close() error
}

// Watcher watches the credentials file and recycles the Firestore handle
// when the file is rotated, so new service-account keys take effect
// without a process restart.
type Watcher struct {
	recycler HandleRecycler
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	timer   *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a credentials watcher. credentialsPath may be empty, in which
// case Start is a no-op.
func New(recycler HandleRecycler, credentialsPath string) *Watcher {
	return &Watcher{
		recycler: recycler,
		path:     filepath.Clean(credentialsPath),
		debounce: defaultDebounce,
	}
}

// Start begins watching the credentials file directory.
// Returns true if the watcher was started (a path is configured), false otherwise.
func (w *Watcher) Start() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return true, nil
	}
	if w.path == "" || w.path == "." {
		return false, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}

	// Watch the parent directory: rotation typically replaces the file,
	// and a watch on the file itself dies with the old inode.
	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		fsWatcher.Close()
		return false, err
	}

	w.watcher = fsWatcher
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.running = true

	w.wg.Add(1)
	go w.eventLoop()

	log.Info().Str("path", w.path).Msg("Credentials watcher started")
	return true, nil
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	w.cancel()
	w.watcher.Close()
	w.wg.Wait()

	log.Info().Msg("Credentials watcher stopped")
}

// IsRunning returns whether the watcher is currently running
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			log.Debug().Str("op", event.Op.String()).Str("path", w.path).Msg("Credentials file event")
			w.scheduleRecycle()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Credentials watcher error")
		}
	}
}

// scheduleRecycle (re)arms the debounce timer.
func (w *Watcher) scheduleRecycle() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.recycle)
}

// recycle closes the current handle and reinitializes with the rotated
// credentials. Failures are logged; the next access self-heals via Handle.
func (w *Watcher) recycle() {
	log.Info().Str("path", w.path).Msg("Credentials file changed, recycling Firestore handle")

	if err := w.recycler.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing Firestore handle during credential rotation")
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.GetTimeouts().Connect)
	defer cancel()

	if err := w.recycler.Initialize(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to reinitialize Firestore handle after credential rotation")
		return
	}

	log.Info().Msg("Firestore handle recycled with rotated credentials")
}
