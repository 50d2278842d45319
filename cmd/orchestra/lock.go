package main

import (
	"fmt"
	"os"
)

// processLock guards a registry document against two orchestrator
// processes opening it at once, using the same O_EXCL create idiom the
// registry store uses for its own atomic writes.
type processLock struct {
	path string
	f *os.File
}

// acquireProcessLock creates path exclusively, failing with a config error
// (rather than letting two processes race on the same registry document)
// if it already exists.
func acquireProcessLock(path string) (*processLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("orchestra: registry lock %q held by another process (remove it if that process is gone)", path)
		}
		return nil, fmt.Errorf("orchestra: acquire registry lock: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("orchestra: write registry lock: %w", err)
	}
	return &processLock{path: path, f: f}, nil
}

func (l *processLock) Release() {
	l.f.Close()
	os.Remove(l.path)
}
