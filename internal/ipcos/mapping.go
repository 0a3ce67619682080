package ipcos

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

var (
	// ErrCantOpen is returned when the backing file cannot be created or
	// opened.
	ErrCantOpen = errors.New("ipcos: cannot open backing file")

	// ErrIOSeek is returned when sizing the backing file (seek/truncate),
	// or reading the presence count, fails.
	ErrIOSeek = errors.New("ipcos: seek/truncate failed")

	// ErrIOWrite is returned when a write to the backing or presence file
	// fails.
	ErrIOWrite = errors.New("ipcos: write failed")

	// ErrIOMmap is returned when the backing file cannot be mapped into
	// the process's address space.
	ErrIOMmap = errors.New("ipcos: mmap failed")
)

const filePerm = 0o644

// Mapping is a shared-memory view of a backing file, visible to every
// process that maps the same path. The registry never holds a Mapping
// open without also holding the corresponding [Mutex].
//
// Each Mapping also owns a handle to a companion "presence" file (path
// with ".mng" appended): an 8-byte open-handle counter, incremented by
// AddPresence on attach and decremented by Close on detach. It realizes
// the create-on-first-open/delete-on-last-close lifecycle: Close removes
// both the segment and the presence file once the count reaches zero.
type Mapping struct {
	file     *os.File
	presence *os.File
	data     []byte
}

func presencePath(path string) string { return path + ".mng" }

// OpenMapping opens (creating if necessary) the file at path and its
// companion presence file, grows path to size if it is smaller, and maps
// it MAP_SHARED so writes are visible to every process with the same
// mapping open. It does not itself adjust the presence count; callers
// that intend to keep the mapping open call AddPresence(1) once they
// have settled on a final size.
func OpenMapping(path string, size int) (*Mapping, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCantOpen, path, err)
	}

	presence, err := os.OpenFile(presencePath(path), os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCantOpen, presencePath(path), err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		_ = presence.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrCantOpen, path, err)
	}

	if info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			_ = f.Close()
			_ = presence.Close()
			return nil, fmt.Errorf("%w: truncate %s: %v", ErrIOSeek, path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		_ = presence.Close()
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrIOMmap, path, err)
	}

	return &Mapping{file: f, presence: presence, data: data}, nil
}

// Bytes returns the mapped region. The slice is valid until Close.
func (m *Mapping) Bytes() []byte { return m.data }

// Sync flushes the mapped region to the backing file.
func (m *Mapping) Sync() error {
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("%w: msync: %v", ErrIOWrite, err)
	}
	return nil
}

// AddPresence adjusts the shared open-handle counter stored in m's
// presence file by delta and returns the resulting count. It is guarded
// by an flock on the presence file, independent of the class mutex, since
// it tracks how many Mapping values reference the segment rather than
// anything about the segment's content.
func (m *Mapping) AddPresence(delta int64) (int64, error) {
	if err := flockRetryEINTR(int(m.presence.Fd()), unix.LOCK_EX); err != nil {
		return 0, fmt.Errorf("%w: locking presence file: %v", ErrCantOpen, err)
	}
	defer unix.Flock(int(m.presence.Fd()), unix.LOCK_UN)

	var buf [8]byte
	n, err := m.presence.ReadAt(buf[:], 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("%w: reading presence count: %v", ErrIOSeek, err)
	}

	var count int64
	if n == len(buf) {
		count = int64(binary.LittleEndian.Uint64(buf[:]))
	}
	count += delta
	if count < 0 {
		count = 0
	}

	binary.LittleEndian.PutUint64(buf[:], uint64(count))
	if _, err := m.presence.WriteAt(buf[:], 0); err != nil {
		return 0, fmt.Errorf("%w: writing presence count: %v", ErrIOWrite, err)
	}

	return count, nil
}

// CloseKeepingPresence unmaps the region and closes the backing and
// presence file descriptors without touching the presence count or
// removing any file. It exists for the internal reopen-at-a-corrected-size
// path, where a Mapping is replaced before AddPresence(1) was ever called
// on its behalf and closing it is not a real detach.
func (m *Mapping) CloseKeepingPresence() error {
	return m.closeFiles()
}

// Close decrements the shared presence count, unmaps the region, and
// closes the backing and presence file descriptors. If the count reaches
// zero, this was the last Mapping referencing the segment, and the
// segment and presence files are removed from disk, completing the
// create-on-first-open/delete-on-last-close lifecycle.
func (m *Mapping) Close() error {
	count, cerr := m.AddPresence(-1)

	var errs []error
	if cerr != nil {
		errs = append(errs, cerr)
	}

	path := m.file.Name()
	presencePathStr := m.presence.Name()

	if err := m.closeFiles(); err != nil {
		errs = append(errs, err)
	}

	if cerr == nil && count == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
		if err := os.Remove(presencePathStr); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", presencePathStr, err))
		}
	}

	return errors.Join(errs...)
}

func (m *Mapping) closeFiles() error {
	var errs []error

	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			errs = append(errs, fmt.Errorf("munmap: %w", err))
		}
		m.data = nil
	}

	if err := m.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if err := m.presence.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close presence: %w", err))
	}

	return errors.Join(errs...)
}

// Path reports the backing file's path, used to derive sibling mapping and
// lock file names.
func (m *Mapping) Path() string { return m.file.Name() }
