// Package target resolves the files handed to detectors.
package target

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/h2non/filetype"
)

// headerSize is what filetype needs to recognise every matcher it ships.
const headerSize = 261

// ErrNotRegular is returned for directories, devices and the like.
var ErrNotRegular = errors.New("not a regular file")

var executableKinds = map[string]bool{
	"exe":   true,
	"elf":   true,
	"macho": true,
	"dex":   true,
	"wasm":  true,
}

// Binary is a file submitted for analysis. It satisfies detector.Target.
type Binary struct {
	FilePath string    `json:"path"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
	SHA256   string    `json:"sha256"`
	Kind     string    `json:"kind"`
	MIME     string    `json:"mime,omitempty"`
}

func (b Binary) Path() string { return b.FilePath }

// Executable reports whether the sniffed kind is a known executable format.
func (b Binary) Executable() bool { return executableKinds[b.Kind] }

// Changed reports whether the file's size or modification time differs from
// when it was opened, i.e. whether SHA256 may no longer describe it.
func (b Binary) Changed() (bool, error) {
	info, err := os.Stat(b.FilePath)
	if err != nil {
		return true, err
	}
	return info.Size() != b.Size || !info.ModTime().Equal(b.ModTime), nil
}

// Open stats, hashes and sniffs path. The file is only read.
func Open(path string) (Binary, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Binary{}, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return Binary{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Binary{}, err
	}
	if !info.Mode().IsRegular() {
		return Binary{}, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}

	head := make([]byte, headerSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Binary{}, err
	}
	head = head[:n]

	h := sha256.New()
	h.Write(head)
	if _, err := io.Copy(h, f); err != nil {
		return Binary{}, err
	}

	b := Binary{
		FilePath: abs,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		SHA256:   hex.EncodeToString(h.Sum(nil)),
		Kind:     "unknown",
	}
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		b.Kind = kind.Extension
		b.MIME = kind.MIME.Value
	}
	return b, nil
}

// Walk resolves every regular file below root (or root itself).
// Unreadable entries are passed to onErr and skipped.
func Walk(root string, onErr func(path string, err error)) ([]Binary, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		b, err := Open(root)
		if err != nil {
			return nil, err
		}
		return []Binary{b}, nil
	}
	var out []Binary
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, werr error) error {
		if werr != nil {
			onErr(path, werr)
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		b, err := Open(path)
		if err != nil {
			onErr(path, err)
			return nil
		}
		out = append(out, b)
		return nil
	})
	return out, err
}
