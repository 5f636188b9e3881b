package service

import "github.com/starford/tagdex/internal/models"

// TagView is the external representation of a tag.
type TagView struct {
	Serial      models.Serial `json:"serial"`
	Identifier  string        `json:"identifier"`
	OffsetPaths []string      `json:"offset_paths"`
	UnitCount   int           `json:"unit_count"`
}

func newTagView(def models.TagDefinition) TagView {
	return TagView{
		Serial:      def.Serial,
		Identifier:  def.Identifier.String(),
		OffsetPaths: def.OffsetPaths.Sorted(),
		UnitCount:   def.UnitCount,
	}
}

// OffsetView describes one offset of a tag.
type OffsetView struct {
	Path        string `json:"path"`
	Description string `json:"description"`
	Count       int    `json:"count"`
	IndexName   string `json:"index_name"`
}

// TagDetail is a tag with its offsets.
type TagDetail struct {
	TagView
	Offsets []OffsetView `json:"offsets"`
}
