//go:build linux

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// fileWatcher is grounded on the teacher toolchain's filewatcher_unix.go,
// narrowed from "watch a whole dependency graph of source files" to
// "watch the single JSON node file this command was pointed at."
type fileWatcher struct {
	fd       int
	mu       sync.Mutex
	debounce *time.Timer
	onChange func()
}

func newFileWatcher(onChange func()) (*fileWatcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init failed: %v", err)
	}
	return &fileWatcher{fd: fd, onChange: onChange}, nil
}

func (fw *fileWatcher) addFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	_, err = unix.InotifyAddWatch(fw.fd, absPath, unix.IN_MODIFY|unix.IN_CLOSE_WRITE)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %v", absPath, err)
	}
	return nil
}

func (fw *fileWatcher) run() {
	buf := make([]byte, unix.SizeofInotifyEvent*10)
	for {
		n, err := unix.Read(fw.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			if objemitVerbose() {
				fmt.Fprintf(os.Stderr, "objemit: error reading inotify events: %v\n", err)
			}
			continue
		}

		offset := 0
		sawEvent := false
		for offset < n {
			event := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			offset += unix.SizeofInotifyEvent + int(event.Len)
			if event.Mask&(unix.IN_MODIFY|unix.IN_CLOSE_WRITE) != 0 {
				sawEvent = true
			}
		}
		if sawEvent {
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
