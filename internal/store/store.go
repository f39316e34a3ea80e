package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	addressKey  = "address"
	defaultFile = "remotedisplay/state.yaml"
)

// ErrEmptyAddress is returned by Save for a blank address.
var ErrEmptyAddress = errors.New("store: empty address")

// Store persists the last used address as a single-key YAML file.
type Store struct {
	path string
	log  *logrus.Entry

	mu   sync.Mutex
	last string
}

// DefaultPath is the XDG state location, creating its directory if needed.
func DefaultPath() (string, error) {
	p, err := xdg.StateFile(defaultFile)
	if err != nil {
		return "", fmt.Errorf("store: resolve state file: %w", err)
	}
	return p, nil
}

// New opens the store at path, or at DefaultPath when path is empty.
func New(path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	s := &Store{
		path: abs,
		log:  logrus.WithFields(logrus.Fields{"component": "store", "path": abs}),
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Load returns the stored address, or "" when nothing was saved yet.
func (s *Store) Load() (string, error) {
	addr, err := s.read()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.last = addr
	s.mu.Unlock()
	return addr, nil
}

func (s *Store) read() (string, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	v := viper.New()
	v.SetConfigFile(s.path)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("store: read %s: %w", s.path, err)
	}
	return strings.TrimSpace(v.GetString(addressKey)), nil
}

// Save trims and persists address.
func (s *Store) Save(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return ErrEmptyAddress
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("store: create dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	v := viper.New()
	v.Set(addressKey, address)
	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("store: write %s: %w", s.path, err)
	}
	s.last = address
	s.log.WithField("address", address).Debug("address saved")
	return nil
}

// Resolve picks the address to start with: a non-blank override wins and is
// saved, otherwise the stored address is returned ("" when none).
func (s *Store) Resolve(override string) (string, error) {
	if o := strings.TrimSpace(override); o != "" {
		if err := s.Save(o); err != nil {
			return "", err
		}
		return o, nil
	}
	return s.Load()
}

// Watch calls fn whenever another process changes the stored address. It
// blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, fn func(address string)) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("store: new watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("store: watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			addr, err := s.read()
			if err != nil {
				s.log.WithError(err).Warn("reload after change failed")
				continue
			}
			s.mu.Lock()
			changed := addr != "" && addr != s.last
			if changed {
				s.last = addr
			}
			s.mu.Unlock()
			if changed {
				s.log.WithField("address", addr).Info("stored address changed")
				fn(addr)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.WithError(err).Warn("watch error")
		}
	}
}
