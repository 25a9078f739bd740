//go:build !linux && !darwin

package main

import (
	"fmt"
	"os"
	"time"
)

// fileWatcher on every other platform (Windows included) polls mtime, grounded
// on the teacher toolchain's filewatcher_windows.go — that backend never
// touched golang.org/x/sys either, so this isn't a platform gap, just the
// same polling strategy narrowed to one file.
type fileWatcher struct {
	onChange func()
}

func newFileWatcher(onChange func()) (*fileWatcher, error) {
	return &fileWatcher{onChange: onChange}, nil
}

func (fw *fileWatcher) run(path string) {
	var lastMod time.Time
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !lastMod.IsZero() && info.ModTime().After(lastMod) {
			fw.onChange()
		}
		lastMod = info.ModTime()
	}
}

func watchAndEmit(path string, emit func() error) error {
	if err := emit(); err != nil {
		fmt.Fprintln(os.Stderr, "objemit:", err)
	}
	fw, err := newFileWatcher(func() {
		if err := emit(); err != nil {
			fmt.Fprintln(os.Stderr, "objemit:", err)
		}
	})
	if err != nil {
		return err
	}
	fw.run(path)
	return nil
}
