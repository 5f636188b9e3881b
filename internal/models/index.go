package models

// IndexSpec describes one persistent index over an offset path.
type IndexSpec struct {
	OffsetPath string `json:"offset_path"`
	Name       string `json:"name"`
	Sparse     bool   `json:"sparse"`
	Background bool   `json:"background"`
}
