// Package tempstore manages TEMP event overflow files (spec.md §3
// invariant v, §4.2, §6): auxiliary backing files minted when a caller
// requests an event larger than the pool's per-event capacity.
//
// Grounded on the teacher's chancacher package, which alternates between
// two on-disk files as a channel's overflow buffer; the lifecycle here is
// simpler (one file per oversized event, unlinked exactly once on return to
// GrandCentral) but reuses the same "mmap a plain file, let the kernel page
// it" approach rather than hand-rolling buffered I/O.
package tempstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/JeffersonLab/et-sub001/internal/backing"
)

// Store mints and retires TEMP files for one system instance.
type Store struct {
	dir     string
	prefix  string
	counter uint64
}

// New returns a Store rooted at dir, which must already exist (typically
// the directory configured for the system, spec.md §6 "under the system
// directory").
func New(dir, systemName string) *Store {
	return &Store{dir: dir, prefix: systemName}
}

// Handle is a mapped TEMP file plus the path recorded in the owning
// event's descriptor.
type Handle struct {
	Path string
	Map  *backing.FileMap
	file *os.File
}

// Create mints a uniquely named file under the store's directory, sized to
// size bytes, and maps it. The name embeds the system name, this process's
// pid, and a monotonic per-process counter so that concurrent creators
// never collide (spec.md §4.2: "create a uniquely-named backing file of
// the requested size").
func (s *Store) Create(size uint32) (*Handle, error) {
	n := atomic.AddUint64(&s.counter, 1)
	name := fmt.Sprintf("%s.tmp.%d.%d", s.prefix, os.Getpid(), n)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	fm, err := backing.MapFile(f)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return &Handle{Path: path, Map: fm, file: f}, nil
}

// Open maps an existing TEMP file by path, used by a process other than
// the creator that receives the event via get (spec.md §6: "Recipients
// map it on get").
func Open(path string) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	fm, err := backing.MapFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Handle{Path: path, Map: fm, file: f}, nil
}

// Unmap releases this process's mapping without deleting the file (spec.md
// §6: "unmap on put" — the file itself is only unlinked once, at
// GrandCentral, by Release).
func (h *Handle) Unmap() error {
	if h.Map != nil {
		if err := h.Map.Close(); err != nil {
			return err
		}
	}
	return h.file.Close()
}

// Release unmaps and unlinks the TEMP file. Called exactly once, when the
// owning event returns to GrandCentral (invariant v).
func (h *Handle) Release() error {
	if err := h.Unmap(); err != nil {
		return err
	}
	return os.Remove(h.Path)
}
