// Package dictionary holds the in-memory tag catalog: identifiers, serials,
// observed offset paths and the usage counters recomputed by full scans.
package dictionary

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/starford/tagdex/internal/apperr"
	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/offsetpath"
)

// SerialTokenPrefix marks a resolve token as a serial rather than an identifier.
const SerialTokenPrefix = "@"

const defaultResolveCacheSize = 4096

// Persister loads and writes back the authoritative tag records.
type Persister interface {
	LoadAll(ctx context.Context) ([]models.TagDefinition, error)
	WriteBack(ctx context.Context, defs []models.TagDefinition) error
}

// Dictionary is the injected tag catalog. It is loaded once per process and
// persisted at checkpoints chosen by the caller.
//
// The mutex only keeps map access race-free. Two scans recording usage for the
// same tag still need external coordination.
type Dictionary struct {
	persister Persister

	mu           sync.RWMutex
	bySerial     map[models.Serial]*models.TagDefinition
	byIdentifier map[string]models.Serial
	offsetCounts map[string]int
	units        map[models.Serial]*roaring.Bitmap

	resolveCache *lru.Cache[string, models.Serial]
}

// Option configures a Dictionary.
type Option func(*Dictionary)

// WithResolveCacheSize overrides the size of the token resolution cache.
func WithResolveCacheSize(n int) Option {
	return func(d *Dictionary) {
		if n > 0 {
			d.resolveCache, _ = lru.New[string, models.Serial](n)
		}
	}
}

// New creates an empty dictionary backed by p.
func New(p Persister, opts ...Option) *Dictionary {
	cache, _ := lru.New[string, models.Serial](defaultResolveCacheSize)
	d := &Dictionary{
		persister:    p,
		bySerial:     make(map[models.Serial]*models.TagDefinition),
		byIdentifier: make(map[string]models.Serial),
		offsetCounts: make(map[string]int),
		units:        make(map[models.Serial]*roaring.Bitmap),
		resolveCache: cache,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load replaces the catalog with the persisted records.
func (d *Dictionary) Load(ctx context.Context) error {
	defs, err := d.persister.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("dictionary: load: %w", err)
	}
	d.Replace(defs)
	return nil
}

// Replace swaps the whole catalog for defs. A tag whose offsets and unit
// count are unchanged keeps its per-offset counters and unit bitmap; for any
// other tag they are dropped and the persisted unit count is used.
func (d *Dictionary) Replace(defs []models.TagDefinition) {
	d.mu.Lock()
	defer d.mu.Unlock()

	oldDefs, oldCounts, oldUnits := d.bySerial, d.offsetCounts, d.units
	d.bySerial = make(map[models.Serial]*models.TagDefinition, len(defs))
	d.byIdentifier = make(map[string]models.Serial, len(defs))
	d.offsetCounts = make(map[string]int)
	d.units = make(map[models.Serial]*roaring.Bitmap)
	for _, def := range defs {
		d.putLocked(def)
		old, ok := oldDefs[def.Serial]
		if !ok || old.UnitCount != def.UnitCount || !samePaths(old.OffsetPaths, def.OffsetPaths) {
			continue
		}
		for p := range def.OffsetPaths {
			if n, ok := oldCounts[p]; ok {
				d.offsetCounts[p] = n
			}
		}
		if bm, ok := oldUnits[def.Serial]; ok {
			d.units[def.Serial] = bm
		}
	}
	d.resolveCache.Purge()
}

func samePaths(a, b models.PathSet) bool {
	if a.Len() != b.Len() {
		return false
	}
	for p := range a {
		if !b.Has(p) {
			return false
		}
	}
	return true
}

// Put adds or replaces a single definition.
func (d *Dictionary) Put(def models.TagDefinition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.bySerial[def.Serial]; ok {
		delete(d.byIdentifier, old.Identifier.String())
	}
	d.putLocked(def)
	d.resolveCache.Purge()
}

func (d *Dictionary) putLocked(def models.TagDefinition) {
	c := def.Clone()
	d.bySerial[c.Serial] = &c
	d.byIdentifier[c.Identifier.String()] = c.Serial
}

// Persist writes every definition back through the persister.
func (d *Dictionary) Persist(ctx context.Context) error {
	if err := d.persister.WriteBack(ctx, d.Definitions()); err != nil {
		return fmt.Errorf("dictionary: persist: %w", err)
	}
	return nil
}

// Definition returns a copy of the definition for serial.
func (d *Dictionary) Definition(serial models.Serial) (models.TagDefinition, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.bySerial[serial]
	if !ok {
		return models.TagDefinition{}, fmt.Errorf("%w: %s", apperr.ErrUnknownTag, serial)
	}
	return def.Clone(), nil
}

// Definitions returns copies of all definitions ordered by serial.
func (d *Dictionary) Definitions() []models.TagDefinition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.TagDefinition, 0, len(d.bySerial))
	for _, def := range d.bySerial {
		out = append(out, def.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

// Len returns the number of tags.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.bySerial)
}

// Resolve looks a tag up by identifier ("geo:city") or serial token ("@3").
// A serial token never falls back to identifier lookup.
func (d *Dictionary) Resolve(token string) (models.TagDefinition, error) {
	token = strings.TrimSpace(token)
	if serial, ok := d.resolveCache.Get(token); ok {
		if def, err := d.Definition(serial); err == nil {
			return def, nil
		}
		d.resolveCache.Remove(token)
	}

	serial, err := d.lookupToken(token)
	if err != nil {
		return models.TagDefinition{}, err
	}
	def, err := d.Definition(serial)
	if err != nil {
		return models.TagDefinition{}, fmt.Errorf("%w: %q", apperr.ErrNotFound, token)
	}
	d.resolveCache.Add(token, serial)
	return def, nil
}

func (d *Dictionary) lookupToken(token string) (models.Serial, error) {
	if raw, ok := strings.CutPrefix(token, SerialTokenPrefix); ok {
		serial, ok := models.ParseSerial(raw)
		if !ok {
			return 0, fmt.Errorf("%w: bad serial token %q", apperr.ErrNotFound, token)
		}
		return serial, nil
	}
	key := models.ParseIdentifier(token).String()
	d.mu.RLock()
	serial, ok := d.byIdentifier[key]
	d.mu.RUnlock()
	if !ok || key == "" {
		return 0, fmt.Errorf("%w: %q", apperr.ErrNotFound, token)
	}
	return serial, nil
}

// RecordOffsetUsage notes delta occurrences of serial at path. Unknown tags
// are rejected, never created.
func (d *Dictionary) RecordOffsetUsage(serial models.Serial, path string, delta int) error {
	tag, err := offsetpath.TagOf(path)
	if err != nil {
		return err
	}
	if tag != serial {
		return fmt.Errorf("%w: %q does not end in tag %s", apperr.ErrMalformedPath, path, serial)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recordLocked(serial, path, delta)
}

func (d *Dictionary) recordLocked(serial models.Serial, path string, delta int) error {
	def, ok := d.bySerial[serial]
	if !ok {
		return fmt.Errorf("%w: %s (path %s)", apperr.ErrUnknownTag, serial, path)
	}
	if def.OffsetPaths == nil {
		def.OffsetPaths = models.PathSet{}
	}
	def.OffsetPaths.Add(path)
	d.offsetCounts[path] += delta
	return nil
}

// RecordDocument records every populated path of one document and counts the
// document once per tag it touches. key identifies the document within the
// current scan. Paths that fail are skipped; their errors are joined.
func (d *Dictionary) RecordDocument(key uint32, paths []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for _, path := range paths {
		serial, err := offsetpath.TagOf(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := d.recordLocked(serial, path, 1); err != nil {
			errs = append(errs, err)
			continue
		}
		bm, ok := d.units[serial]
		if !ok {
			bm = roaring.New()
			d.units[serial] = bm
		}
		if bm.CheckedAdd(key) {
			d.bySerial[serial].UnitCount = int(bm.GetCardinality())
		}
	}
	return errors.Join(errs...)
}

// ResetCounters zeroes every counter and forgets observed offsets. Call it
// before a full rescan so bulk deletions cannot leave stale counts behind.
func (d *Dictionary) ResetCounters() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, def := range d.bySerial {
		def.UnitCount = 0
		def.OffsetPaths = models.PathSet{}
	}
	d.offsetCounts = make(map[string]int)
	d.units = make(map[models.Serial]*roaring.Bitmap)
}

// SnapshotCounters returns unit counts keyed by serial.
func (d *Dictionary) SnapshotCounters() map[models.Serial]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[models.Serial]int, len(d.bySerial))
	for serial, def := range d.bySerial {
		out[serial] = def.UnitCount
	}
	return out
}

// OffsetCounts returns occurrence counts per offset path since the last reset.
func (d *Dictionary) OffsetCounts() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]int, len(d.offsetCounts))
	for p, n := range d.offsetCounts {
		out[p] = n
	}
	return out
}
