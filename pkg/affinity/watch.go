package affinity

import (
	"context"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	"netaffinity/pkg"
	"netaffinity/pkg/types"
)

// DefaultDebounce is how long the watcher waits after the last interface
// event before resolving again.
const DefaultDebounce = 500 * time.Millisecond

// subscribeNetlink opens the kernel address and link notification streams.
// Both channels are closed once done is closed.
var subscribeNetlink = func(done <-chan struct{}) (<-chan netlink.AddrUpdate, <-chan netlink.LinkUpdate, error) {
	addrs := make(chan netlink.AddrUpdate)
	if err := netlink.AddrSubscribe(addrs, done); err != nil {
		return nil, nil, errors.Wrap(err, "failed to subscribe to address updates")
	}
	links := make(chan netlink.LinkUpdate)
	if err := netlink.LinkSubscribe(links, done); err != nil {
		return nil, nil, errors.Wrap(err, "failed to subscribe to link updates")
	}
	return addrs, links, nil
}

// Watcher re-resolves an address whenever the kernel reports an address or
// link change. Directory events under <sysfs>/class/net are a fallback
// trigger for hosts where netlink multicast is unavailable.
type Watcher struct {
	locator  *Locator
	ip       string
	netDir   string
	debounce time.Duration
	logger   *logrus.Logger
}

// NewWatcher creates a watcher for ip. An empty sysRoot means /sys.
func NewWatcher(locator *Locator, sysRoot, ip string) *Watcher {
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	return &Watcher{
		locator:  locator,
		ip:       ip,
		netDir:   filepath.Join(sysRoot, "class", "net"),
		debounce: DefaultDebounce,
		logger:   pkg.StandardLogger(),
	}
}

// WithDebounce sets the quiet period between an event and the next
// resolution.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Run resolves the address once, then again after every burst of interface
// changes, calling onChange whenever the placement differs from the last
// one reported. It blocks until ctx is done. It fails only when neither
// netlink nor the directory watch can be set up.
func (w *Watcher) Run(ctx context.Context, onChange func(*types.Placement)) error {
	done := make(chan struct{})
	defer close(done)

	addrs, links, nlErr := subscribeNetlink(done)
	if nlErr != nil {
		w.logger.WithError(nlErr).Warn("netlink notifications unavailable")
	}

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	fsw, fsErr := fsnotify.NewWatcher()
	if fsErr == nil {
		defer fsw.Close()
		fsErr = fsw.Add(w.netDir)
	}
	if fsErr != nil {
		if nlErr != nil {
			return errors.Wrapf(fsErr, "failed to watch %s", w.netDir)
		}
		w.logger.WithError(fsErr).WithField("path", w.netDir).Debug("directory watch unavailable")
	} else {
		fsEvents, fsErrors = fsw.Events, fsw.Errors
	}
	w.logger.WithField("ip", w.ip).Info("watching for interface changes")

	last, err := w.locator.Locate(w.ip)
	if err != nil {
		return err
	}
	onChange(last)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case update, ok := <-addrs:
			if !ok {
				addrs = nil
				continue
			}
			w.logger.WithField("address", update.LinkAddress.IP).Debugf("address update, new=%v", update.NewAddr)
			timer.Reset(w.debounce)
		case update, ok := <-links:
			if !ok {
				links = nil
				continue
			}
			w.logger.WithField("index", update.Index).Debug("link update")
			timer.Reset(w.debounce)
		case event, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if !isInterfaceEvent(event) {
				continue
			}
			w.logger.WithField("interface", filepath.Base(event.Name)).Debugf("interface event %s", event.Op)
			timer.Reset(w.debounce)
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			w.logger.WithError(err).Error("interface monitor error")
		case <-timer.C:
			p, err := w.locator.Locate(w.ip)
			if err != nil {
				w.logger.WithError(err).Error("failed to resolve placement")
				continue
			}
			if reflect.DeepEqual(p, last) {
				continue
			}
			last = p
			onChange(p)
		case <-ctx.Done():
			return nil
		}
	}
}

func isInterfaceEvent(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}
