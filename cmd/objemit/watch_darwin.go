//go:build darwin

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// fileWatcher is grounded on the teacher toolchain's filewatcher_darwin.go
// (kqueue-based), narrowed to watching a single file.
type fileWatcher struct {
	kq       int
	mu       sync.Mutex
	debounce *time.Timer
	onChange func()
}

func newFileWatcher(onChange func()) (*fileWatcher, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue failed: %v", err)
	}
	return &fileWatcher{kq: kq, onChange: onChange}, nil
}

func (fw *fileWatcher) addFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	fd, err := unix.Open(absPath, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %v", absPath, err)
	}
	event := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_VNODE,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
		Fflags: unix.NOTE_WRITE | unix.NOTE_ATTRIB,
	}
	if _, err := unix.Kevent(fw.kq, []unix.Kevent_t{event}, nil, nil); err != nil {
		unix.Close(fd)
		return fmt.Errorf("failed to add kevent for %s: %v", absPath, err)
	}
	return nil
}

func (fw *fileWatcher) run() {
	events := make([]unix.Kevent_t, 10)
	for {
		n, err := unix.Kevent(fw.kq, nil, events, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if objemitVerbose() {
				fmt.Fprintf(os.Stderr, "objemit: error reading kqueue events: %v\n", err)
			}
			continue
		}
		if n > 0 {
			fw.debouncedCallback()
		}
	}
}

func (fw *fileWatcher) debouncedCallback() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.debounce != nil {
		fw.debounce.Stop()
	}
	fw.debounce = time.AfterFunc(200*time.Millisecond, fw.onChange)
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
	if err := fw.addFile(path); err != nil {
		return err
	}
	fw.run()
	return nil
}
