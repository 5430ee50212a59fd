package config

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

// MaxSourceSize limits single config source, config is never that big.
const MaxSourceSize = 1 << 20

// FullReader resolves config source names and reads sources whole.
type FullReader interface {
	Normalize(name string) string
	// ReadAll returns nil, nil when source does not exist.
	ReadAll(name string) ([]byte, error)
}

// DirReader reads files, relative names resolve against Dir.
type DirReader struct {
	Dir string
}

func NewDirReader(dir string) (*DirReader, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Annotatef(err, "config dir=%s", dir)
	}
	return &DirReader{Dir: abs}, nil
}

// Chdir moves base for relative names, e.g. to directory of main config file.
func (r *DirReader) Chdir(dir string) {
	if dir == "" {
		return
	}
	r.Dir = r.Normalize(dir)
}

func (r *DirReader) Normalize(name string) string {
	if !filepath.IsAbs(name) {
		name = filepath.Join(r.Dir, name)
	}
	return filepath.Clean(name)
}

func (r *DirReader) ReadAll(path string) ([]byte, error) {
	fi, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return nil, nil
	case err != nil:
		return nil, err
	case fi.IsDir():
		return nil, errors.NotValidf("config path=%s is directory", path)
	case fi.Size() > MaxSourceSize:
		return nil, errors.NotValidf("config path=%s size=%d over limit=%d", path, fi.Size(), MaxSourceSize)
	}
	return ioutil.ReadFile(path)
}

// MapReader serves sources from memory, name -> content.
type MapReader map[string]string

func (m MapReader) Normalize(name string) string { return filepath.Clean(name) }

func (m MapReader) ReadAll(name string) ([]byte, error) {
	if s, ok := m[name]; ok {
		return []byte(s), nil
	}
	return nil, nil
}
