package api

import (
	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/recommit"
	"github.com/starford/tagdex/internal/service"
)

// TagView is a tag in list responses (aliased from the domain layer).
type TagView = service.TagView

// TagDetail is a tag with its offsets (aliased from the domain layer).
type TagDetail = service.TagDetail

// RecommitRequest is the request body for starting a recommit.
type RecommitRequest = service.RecommitRequest

// PutTagRequest is the request body for registering a tag.
type PutTagRequest struct {
	Serial     models.Serial `json:"serial" example:"7" validate:"required"`
	Identifier string        `json:"identifier" example:"geo:name" validate:"required"`
}

// TagListResponse wraps the tag listing.
type TagListResponse struct {
	Tags []TagView `json:"tags" validate:"required"`
}

// PlanResponse wraps index specifications.
type PlanResponse struct {
	Indexes []models.IndexSpec `json:"indexes" validate:"required"`
}

// OffsetResponse describes one offset path.
type OffsetResponse struct {
	Path        string `json:"path" example:"3.7" validate:"required"`
	Description string `json:"description" example:"geo:city > geo:name" validate:"required"`
}

// RecommitResponse wraps the statistics of every run started by a request.
type RecommitResponse struct {
	Runs []recommit.Stats `json:"runs" validate:"required"`
}
