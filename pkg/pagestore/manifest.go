package pagestore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/natefinch/atomic"
)

// manifestMagic identifies a page-store manifest file.
var manifestMagic = [4]byte{'A', 'R', 'C', 'M'}

const (
	manifestVersion  uint16 = 1
	manifestFileSize        = 4 + 2 + 8 + 8 // magic + version + fingerprint + next_page_id
	manifestFilePerm        = 0o644
)

// manifestLockTimeout bounds how long UpdateManifest waits to acquire the
// companion .lock file before giving up.
const manifestLockTimeout = 5 * time.Second

// Manifest is the page store's small durable header: a fingerprint of the
// schema the store was created with, and the next unallocated page id.
// It is rewritten as a whole file on every update via natefinch/atomic's
// tmp+rename primitive — the manifest is a single fixed-size blob with no
// streaming-write caller, so it needs nothing beyond a whole-file replace.
type Manifest struct {
	SchemaFingerprint uint64
	NextPageID        uint64
}

// LoadManifest reads the manifest at path. A missing file is reported as a
// zero-value Manifest with no error: a fresh page store has no manifest
// yet.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, nil
	}

	if err != nil {
		return Manifest{}, fmt.Errorf("pagestore: read manifest: %w", err)
	}

	return decodeManifest(data)
}

func decodeManifest(data []byte) (Manifest, error) {
	if len(data) != manifestFileSize {
		return Manifest{}, fmt.Errorf("pagestore: manifest: bad size %d, want %d", len(data), manifestFileSize)
	}

	if !bytes.Equal(data[0:4], manifestMagic[:]) {
		return Manifest{}, errors.New("pagestore: manifest: bad magic")
	}

	version := binary.LittleEndian.Uint16(data[4:6])
	if version != manifestVersion {
		return Manifest{}, fmt.Errorf("pagestore: manifest: unsupported version %d", version)
	}

	return Manifest{
		SchemaFingerprint: binary.LittleEndian.Uint64(data[6:14]),
		NextPageID:        binary.LittleEndian.Uint64(data[14:22]),
	}, nil
}

func (m Manifest) encode() []byte {
	buf := make([]byte, manifestFileSize)

	copy(buf[0:4], manifestMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], manifestVersion)
	binary.LittleEndian.PutUint64(buf[6:14], m.SchemaFingerprint)
	binary.LittleEndian.PutUint64(buf[14:22], m.NextPageID)

	return buf
}

// Save atomically replaces the manifest file at path with m's contents:
// the write lands in full or not at all, even across a crash mid-write.
func (m Manifest) Save(path string) error {
	if err := atomic.WriteFile(path, bytes.NewReader(m.encode())); err != nil {
		return fmt.Errorf("pagestore: write manifest: %w", err)
	}

	return nil
}

// manifestFileLock guards the read-modify-write cycle in UpdateManifest;
// the atomic rename makes each individual Save indivisible, but callers
// still need mutual exclusion across the read-then-decide-then-write gap.
type manifestFileLock struct {
	file *os.File
}

func acquireManifestLock(path string) (*manifestFileLock, error) {
	lockPath := path + ".lock"

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, manifestFilePerm) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("pagestore: open lock file: %w", err)
	}

	deadline := time.Now().Add(manifestLockTimeout)

	const retryInterval = 10 * time.Millisecond

	for {
		if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err == nil {
			return &manifestFileLock{file: file}, nil
		}

		if time.Now().After(deadline) {
			_ = file.Close()

			return nil, fmt.Errorf("pagestore: lock manifest %s: timeout", path)
		}

		time.Sleep(retryInterval)
	}
}

func (l *manifestFileLock) release() {
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
}

// UpdateManifest locks path's manifest, loads the current value (zero if
// absent), and hands it to fn. If fn returns ok == false the manifest is
// left untouched; otherwise the returned Manifest is atomically saved
// before the lock is released.
func UpdateManifest(path string, fn func(current Manifest) (next Manifest, ok bool, err error)) error {
	lock, err := acquireManifestLock(path)
	if err != nil {
		return err
	}

	defer lock.release()

	current, err := LoadManifest(path)
	if err != nil {
		return err
	}

	next, ok, err := fn(current)
	if err != nil {
		return err
	}

	if !ok {
		return nil
	}

	return next.Save(path)
}
