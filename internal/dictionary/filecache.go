package dictionary

import (
	"context"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/starford/tagdex/internal/checksum"
	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/offsetpath"
	"github.com/starford/tagdex/internal/storage"
)

// FileCache persists the dictionary as a YAML snapshot. It lets a process
// start without the document store and is the file WatchCache follows.
type FileCache struct {
	files storage.Files
	name  string

	mu      sync.Mutex
	written string // checksum of the last snapshot WriteBack produced
}

var _ Persister = (*FileCache)(nil)

// NewFileCache stores the snapshot in name under files.
func NewFileCache(files storage.Files, name string) *FileCache {
	return &FileCache{files: files, name: name}
}

// Name returns the snapshot path relative to the storage root.
func (c *FileCache) Name() string { return c.name }

type cacheFile struct {
	Tags []cacheTag `yaml:"tags"`
}

type cacheTag struct {
	Serial      uint32   `yaml:"serial"`
	Identifier  string   `yaml:"identifier"`
	OffsetPaths []string `yaml:"offset_paths,omitempty"`
	UnitCount   int      `yaml:"unit_count"`
}

// LoadAll reads the snapshot. A missing file is an empty dictionary.
func (c *FileCache) LoadAll(_ context.Context) ([]models.TagDefinition, error) {
	if !c.files.Exists(c.name) {
		return nil, nil
	}
	data, err := c.files.Read(c.name)
	if err != nil {
		return nil, err
	}
	return c.decode(data)
}

// ownWrite reports whether data is exactly the snapshot this cache last
// wrote, so watchers can ignore their own process's writes.
func (c *FileCache) ownWrite(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written != "" && c.written == checksum.Sum(data)
}

func (c *FileCache) decode(data []byte) ([]models.TagDefinition, error) {
	var f cacheFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("dictionary: parse %s: %w", c.name, err)
	}

	defs := make([]models.TagDefinition, 0, len(f.Tags))
	seen := make(map[models.Serial]struct{}, len(f.Tags))
	for _, t := range f.Tags {
		def, err := t.definition()
		if err != nil {
			return nil, fmt.Errorf("dictionary: %s: %w", c.name, err)
		}
		if _, dup := seen[def.Serial]; dup {
			return nil, fmt.Errorf("dictionary: %s: duplicate serial %s", c.name, def.Serial)
		}
		seen[def.Serial] = struct{}{}
		defs = append(defs, def)
	}
	return defs, nil
}

func (t cacheTag) definition() (models.TagDefinition, error) {
	serial := models.Serial(t.Serial)
	if serial == 0 {
		return models.TagDefinition{}, fmt.Errorf("tag %q has no serial", t.Identifier)
	}
	id := models.ParseIdentifier(t.Identifier)
	if len(id) == 0 {
		return models.TagDefinition{}, fmt.Errorf("tag %s has no identifier", serial)
	}
	paths := models.PathSet{}
	for _, p := range t.OffsetPaths {
		if !offsetpath.HasTagSuffix(p, serial) {
			return models.TagDefinition{}, fmt.Errorf("tag %s: offset %q does not end in its serial", serial, p)
		}
		paths.Add(p)
	}
	return models.TagDefinition{
		Serial:      serial,
		Identifier:  id,
		OffsetPaths: paths,
		UnitCount:   t.UnitCount,
	}, nil
}

// WriteBack replaces the snapshot with defs.
func (c *FileCache) WriteBack(_ context.Context, defs []models.TagDefinition) error {
	f := cacheFile{Tags: make([]cacheTag, 0, len(defs))}
	for _, d := range defs {
		f.Tags = append(f.Tags, cacheTag{
			Serial:      uint32(d.Serial),
			Identifier:  d.Identifier.String(),
			OffsetPaths: d.OffsetPaths.Sorted(),
			UnitCount:   d.UnitCount,
		})
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("dictionary: encode cache: %w", err)
	}
	if err := c.files.Write(c.name, data); err != nil {
		return err
	}
	c.mu.Lock()
	c.written = checksum.Sum(data)
	c.mu.Unlock()
	return nil
}
