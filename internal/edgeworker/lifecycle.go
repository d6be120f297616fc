package edgeworker

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"

	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"edgeworker/internal/cachestore"
	"edgeworker/internal/metrics"
)

type lifecycleState int

const (
	stateIdle lifecycleState = iota
	stateInstalled
	stateActivated
)

func (s lifecycleState) String() string {
	switch s {
	case stateInstalled:
		return "installed"
	case stateActivated:
		return "activated"
	default:
		return "idle"
	}
}

// Lifecycle owns cache namespace versioning. Install supersedes whatever worker
// ran before without waiting for it; Activate claims traffic and then deletes
// every namespace that is not one of the two current ones. It is the only place
// whole namespaces are deleted.
type Lifecycle struct {
	storage cachestore.Storage
	assets  string
	images  string
	log     *zap.Logger

	mu          sync.Mutex
	state       lifecycleState
	imagesCache cachestore.Cache

	active atomic.Bool
}

func NewLifecycle(storage cachestore.Storage, cfg CacheConfig, log *zap.Logger) *Lifecycle {
	return &Lifecycle{
		storage: storage,
		assets:  cfg.AssetsNamespace,
		images:  cfg.ImagesNamespace,
		log:     log,
	}
}

func (l *Lifecycle) Install(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != stateIdle {
		return errors.Newf(errors.CodeConflict, "install: worker is already %s", l.state)
	}
	if _, err := l.storage.Open(ctx, l.assets); err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "open namespace %s", l.assets)
	}
	images, err := l.storage.Open(ctx, l.images)
	if err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "open namespace %s", l.images)
	}
	l.imagesCache = images
	l.state = stateInstalled
	l.log.Info("worker installed", zap.String("assets", l.assets), zap.String("images", l.images))
	return nil
}

// Activate starts interception immediately, then purges namespaces left by
// other versions. It returns the purged names. A purge failure is reported but
// does not undo activation.
func (l *Lifecycle) Activate(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != stateInstalled {
		return nil, errors.Newf(errors.CodeConflict, "activate: worker is %s, want installed", l.state)
	}
	l.state = stateActivated
	l.active.Store(true)

	names, err := l.storage.Names(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "list namespaces")
	}

	var purged []string
	var errs []error
	for _, name := range names {
		if name == l.assets || name == l.images {
			continue
		}
		ok, err := l.storage.Delete(ctx, name)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, errors.CodeDatabase, "delete namespace %s", name))
			continue
		}
		if ok {
			purged = append(purged, name)
		}
	}
	metrics.ObservePurge(len(purged))
	l.log.Info("worker activated", zap.Strings("purged", purged))
	return purged, stderrors.Join(errs...)
}

// Active reports whether requests should be intercepted.
func (l *Lifecycle) Active() bool {
	return l.active.Load()
}

// Images returns the current image namespace, or nil before Install.
func (l *Lifecycle) Images() cachestore.Cache {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.imagesCache
}
