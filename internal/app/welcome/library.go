package welcome

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

const indexFile = "index.json"

var backgroundNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Library is a named collection of background images stored in a
// directory next to a JSON index. All mutations are persisted
// immediately.
type Library struct {
	dir string

	mu    sync.Mutex
	index libraryIndex
}

type libraryIndex struct {
	Default string            `json:"default,omitempty"`
	Files   map[string]string `json:"backgrounds"`
}

// OpenLibrary loads the library at dir, creating it when absent.
func OpenLibrary(dir string) (*Library, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create backgrounds dir %s", dir)
	}

	lib := &Library{
		dir:   dir,
		index: libraryIndex{Files: make(map[string]string)},
	}

	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return lib, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read backgrounds index")
	}
	if err := json.Unmarshal(data, &lib.index); err != nil {
		return nil, errors.Wrap(err, "failed to parse backgrounds index")
	}
	if lib.index.Files == nil {
		lib.index.Files = make(map[string]string)
	}
	return lib, nil
}

// Add stores a new background under the given name. The image is
// re-encoded as PNG, so any decodable input format is accepted.
func (l *Library) Add(name string, data []byte) error {
	if !backgroundNameRe.MatchString(name) {
		return errors.Newf("invalid background name %q", name)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "not a decodable image")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.index.Files[name]; exists {
		return errors.Newf("background %q already exists", name)
	}

	filename := name + ".png"
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return errors.Wrap(err, "failed to encode background")
	}
	if err := os.WriteFile(filepath.Join(l.dir, filename), buf.Bytes(), 0o644); err != nil {
		return errors.Wrap(err, "failed to write background file")
	}

	l.index.Files[name] = filename
	if l.index.Default == "" {
		l.index.Default = name
	}
	return l.saveLocked()
}

// Remove deletes a background. Removing the default clears it.
func (l *Library) Remove(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	filename, ok := l.index.Files[name]
	if !ok {
		return errors.Newf("no background named %q", name)
	}

	if err := os.Remove(filepath.Join(l.dir, filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "failed to delete background file")
	}

	delete(l.index.Files, name)
	if l.index.Default == name {
		l.index.Default = ""
	}
	return l.saveLocked()
}

// SetDefault marks an existing background as the default choice.
func (l *Library) SetDefault(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index.Files[name]; !ok {
		return errors.Newf("no background named %q", name)
	}
	l.index.Default = name
	return l.saveLocked()
}

// List returns all background names sorted, plus the current default
// (empty when unset).
func (l *Library) List() ([]string, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.index.Files))
	for name := range l.index.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, l.index.Default
}

// Load reads a background by name.
func (l *Library) Load(name string) (image.Image, error) {
	l.mu.Lock()
	filename, ok := l.index.Files[name]
	l.mu.Unlock()

	if !ok {
		return nil, errors.Newf("no background named %q", name)
	}
	return l.loadFile(filename)
}

// Default returns the default background.
func (l *Library) Default() (image.Image, error) {
	l.mu.Lock()
	name := l.index.Default
	l.mu.Unlock()

	if name == "" {
		return nil, errors.New("no default background set")
	}
	return l.Load(name)
}

// Random picks any background from the library.
func (l *Library) Random() (image.Image, error) {
	l.mu.Lock()
	names := make([]string, 0, len(l.index.Files))
	for name := range l.index.Files {
		names = append(names, name)
	}
	l.mu.Unlock()

	if len(names) == 0 {
		return nil, errors.New("background library is empty")
	}
	sort.Strings(names)
	return l.Load(names[rand.Intn(len(names))])
}

func (l *Library) loadFile(filename string) (image.Image, error) {
	f, err := os.Open(filepath.Join(l.dir, filename))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open background file")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode background file")
	}
	return img, nil
}

// saveLocked must be called with the lock held.
func (l *Library) saveLocked() error {
	data, err := json.MarshalIndent(l.index, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode backgrounds index")
	}
	if err := os.WriteFile(filepath.Join(l.dir, indexFile), data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write backgrounds index")
	}
	return nil
}
