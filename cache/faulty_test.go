package cache

import (
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
)

var errInjected = errors.New("injected fault")

// faultyFS wraps a billy.Filesystem and fails the configured operations for
// paths containing a pattern.
type faultyFS struct {
	billy.Filesystem
	mu     sync.Mutex
	create string
	write  string
	rename string
	remove string
}

func newFaultyFS() *faultyFS {
	return &faultyFS{Filesystem: memfs.New()}
}

func (f *faultyFS) fails(pattern, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pattern != "" && strings.Contains(name, pattern)
}

func (f *faultyFS) set(op *string, pattern string) {
	f.mu.Lock()
	*op = pattern
	f.mu.Unlock()
}

func (f *faultyFS) Create(name string) (billy.File, error) {
	if f.fails(f.create, name) {
		return nil, errInjected
	}
	file, err := f.Filesystem.Create(name)
	if err != nil {
		return nil, err
	}
	if f.fails(f.write, name) {
		return &faultyFile{File: file}, nil
	}
	return file, nil
}

func (f *faultyFS) Rename(from, to string) error {
	if f.fails(f.rename, to) {
		return errInjected
	}
	return f.Filesystem.Rename(from, to)
}

func (f *faultyFS) Remove(name string) error {
	if f.fails(f.remove, name) {
		return errInjected
	}
	return f.Filesystem.Remove(name)
}

type faultyFile struct {
	billy.File
}

func (f *faultyFile) Write([]byte) (int, error) {
	return 0, errInjected
}

// protectingFS records protections instead of applying them.
type protectingFS struct {
	billy.Filesystem
	mu    sync.Mutex
	calls map[string]any
}

func (p *protectingFS) Protect(name string, protection any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := protection.(os.FileMode); !ok {
		return errors.Newf("unsupported protection %T", protection)
	}
	if p.calls == nil {
		p.calls = make(map[string]any)
	}
	p.calls[name] = protection
	return nil
}
