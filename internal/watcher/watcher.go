package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"hostpulse/internal/broadcast"
)

// EventType represents the type of filesystem event
type EventType string

const (
	EventAssetChange EventType = "asset_change"
)

const debounce = 500 * time.Millisecond

// Event is the payload sent to dashboard clients
type Event struct {
	Type EventType `json:"type"`
	Path string    `json:"path"`
}

// Service watches the static asset directory and publishes change events so
// open dashboards can reload.
type Service struct {
	watcher *fsnotify.Watcher
	root    string
	events  *broadcast.Topic[Event]
	log     logrus.FieldLogger
	done    chan struct{}
	stop    sync.Once
}

// New creates a new watcher service
func New(root string, log logrus.FieldLogger) (*Service, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Service{
		watcher: w,
		root:    root,
		events:  broadcast.NewTopic[Event]("assets"),
		log:     log.WithField("component", "watcher"),
		done:    make(chan struct{}),
	}, nil
}

// Events is the topic change events are published on.
func (s *Service) Events() *broadcast.Topic[Event] {
	return s.events
}

// Start adds watches under root and begins publishing events
func (s *Service) Start() error {
	if err := s.addRecursive(s.root); err != nil {
		return err
	}
	go s.loop()
	return nil
}

// Stop stops the watcher and closes the event topic
func (s *Service) Stop() {
	s.stop.Do(func() {
		close(s.done)
		s.watcher.Close()
		s.events.Close()
	})
}

func (s *Service) loop() {
	lastEvent := make(map[string]time.Time)

	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}

			relPath, err := filepath.Rel(s.root, event.Name)
			if err != nil {
				s.log.WithError(err).WithField("name", event.Name).Warn("cannot relativize path")
				continue
			}
			relPath = "/" + filepath.ToSlash(relPath)
			if isHidden(relPath) {
				continue
			}

			if time.Since(lastEvent[relPath]) < debounce {
				continue
			}
			lastEvent[relPath] = time.Now()

			// new directories are not watched automatically
			if event.Op&fsnotify.Create == fsnotify.Create {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := s.watcher.Add(event.Name); err != nil {
						s.log.WithError(err).WithField("dir", event.Name).Warn("cannot watch new dir")
					}
				}
			}

			s.log.WithFields(logrus.Fields{"op": event.Op.String(), "path": relPath}).Debug("asset changed")
			s.events.Publish(Event{Type: EventAssetChange, Path: relPath})

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.WithError(err).Warn("watch error")
		}
	}
}

func isHidden(relPath string) bool {
	for _, part := range strings.Split(relPath, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func (s *Service) addRecursive(path string) error {
	return filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if p != path && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return s.watcher.Add(p)
		}
		return nil
	})
}
