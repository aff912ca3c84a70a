// Package directory is the static user registry behind the "user"
// subcommands: a keyed map persisted as a YAML file.
package directory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrExists is returned when creating a user that is already registered.
	ErrExists = errors.New("user already exists")
	// ErrNotFound is returned when deleting an unknown user.
	ErrNotFound = errors.New("user not found")
)

// Directory represents a users.yaml file.
type Directory struct {
	Version int             `yaml:"version" json:"version"`
	Users   map[string]User `yaml:"users"   json:"users"`

	// FilePath is where the directory was loaded from.
	FilePath string `yaml:"-" json:"-"`
}

// User is a registered user.
type User struct {
	Email   string    `yaml:"email"   json:"email"`
	Created time.Time `yaml:"created" json:"created"`
}

// Entry is a user paired with its name, as returned by List.
type Entry struct {
	Name string `json:"name"`
	User `yaml:",inline"`
}

// New returns an empty directory bound to path.
func New(path string) *Directory {
	return &Directory{Version: 1, Users: make(map[string]User), FilePath: path}
}

// Load reads the directory at path. A missing file yields an empty directory.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(path), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	d.FilePath = path
	return d, nil
}

// Parse decodes directory YAML.
func Parse(data []byte) (*Directory, error) {
	var d Directory
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if d.Version == 0 {
		d.Version = 1
	}
	if d.Users == nil {
		d.Users = make(map[string]User)
	}
	return &d, nil
}

// Save writes the directory to path, creating parent directories. The file
// is replaced atomically.
func Save(d *Directory, path string) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Create registers a new user.
func (d *Directory) Create(name, email string, now time.Time) error {
	if _, ok := d.Users[name]; ok {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	u := User{Email: email, Created: now.UTC().Truncate(time.Second)}
	if errs := validateUser(name, u); len(errs) > 0 {
		return errors.Join(errs...)
	}
	d.Users[name] = u
	return nil
}

// Delete removes a user.
func (d *Directory) Delete(name string) error {
	if _, ok := d.Users[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(d.Users, name)
	return nil
}

// List returns all users sorted by name.
func (d *Directory) List() []Entry {
	entries := make([]Entry, 0, len(d.Users))
	for name, u := range d.Users {
		entries = append(entries, Entry{Name: name, User: u})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries
}
