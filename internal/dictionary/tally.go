package dictionary

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/starford/tagdex/internal/apperr"
	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/offsetpath"
)

// Tally accumulates a full recount away from the live catalog. Readers keep
// seeing the previous counters until Commit swaps the tally in, so an
// aborted scan leaves nothing behind. A Tally is used by one goroutine.
type Tally struct {
	dict         *Dictionary
	offsets      map[models.Serial]models.PathSet
	offsetCounts map[string]int
	units        map[models.Serial]*roaring.Bitmap
}

// NewTally starts an empty recount against d.
func (d *Dictionary) NewTally() *Tally {
	return &Tally{
		dict:         d,
		offsets:      make(map[models.Serial]models.PathSet),
		offsetCounts: make(map[string]int),
		units:        make(map[models.Serial]*roaring.Bitmap),
	}
}

// RecordDocument mirrors Dictionary.RecordDocument on the staged counters.
func (t *Tally) RecordDocument(key uint32, paths []string) error {
	var errs []error
	for _, path := range paths {
		serial, err := offsetpath.TagOf(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !t.dict.has(serial) {
			errs = append(errs, fmt.Errorf("%w: %s (path %s)", apperr.ErrUnknownTag, serial, path))
			continue
		}
		set, ok := t.offsets[serial]
		if !ok {
			set = models.PathSet{}
			t.offsets[serial] = set
		}
		set.Add(path)
		t.offsetCounts[path]++

		bm, ok := t.units[serial]
		if !ok {
			bm = roaring.New()
			t.units[serial] = bm
		}
		bm.Add(key)
	}
	return errors.Join(errs...)
}

// Units returns the staged unit count of serial.
func (t *Tally) Units(serial models.Serial) int {
	if bm, ok := t.units[serial]; ok {
		return int(bm.GetCardinality())
	}
	return 0
}

// Commit replaces every counter of the catalog with the tally. Tags added
// while the tally ran start at zero; tags removed meanwhile are ignored.
func (d *Dictionary) Commit(t *Tally) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for serial, def := range d.bySerial {
		def.UnitCount = t.Units(serial)
		if set, ok := t.offsets[serial]; ok {
			def.OffsetPaths = set.Clone()
		} else {
			def.OffsetPaths = models.PathSet{}
		}
	}
	d.offsetCounts = make(map[string]int, len(t.offsetCounts))
	for p, n := range t.offsetCounts {
		if serial, err := offsetpath.TagOf(p); err == nil {
			if _, ok := d.bySerial[serial]; ok {
				d.offsetCounts[p] = n
			}
		}
	}
	d.units = make(map[models.Serial]*roaring.Bitmap, len(t.units))
	for serial, bm := range t.units {
		if _, ok := d.bySerial[serial]; ok {
			d.units[serial] = bm.Clone()
		}
	}
}

func (d *Dictionary) has(serial models.Serial) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.bySerial[serial]
	return ok
}
