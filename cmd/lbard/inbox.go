package main

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// messageSuffix is the extension the message-file inbox watches for
// (spec §4.6: "files ending in .lbard-message").
const messageSuffix = ".lbard-message"

// inboxWatcher scans dir for message files and presents their contents as
// if received over the radio. Files are never deleted by the core (spec
// §4.6) — an external process is expected to clean them up.
type inboxWatcher struct {
	dir    string
	logger *logrus.Entry
	seen   map[string]struct{}
}

func newInboxWatcher(dir string, logger *logrus.Entry) *inboxWatcher {
	return &inboxWatcher{dir: dir, logger: logger, seen: make(map[string]struct{})}
}

// Drain returns the contents of every not-yet-seen *.lbard-message file in
// the inbox directory. It is synchronous and bounded by directory size
// (spec §5).
func (w *inboxWatcher) Drain() [][]byte {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.WithError(err).Debug("inbox scan failed")
		return nil
	}

	var frames [][]byte
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != messageSuffix {
			continue
		}
		if _, already := w.seen[entry.Name()]; already {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			w.logger.WithError(err).WithField("file", entry.Name()).Warn("failed to read inbox message")
			continue
		}
		w.seen[entry.Name()] = struct{}{}
		frames = append(frames, data)
	}
	return frames
}
