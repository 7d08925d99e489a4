package storage

import (
	"time"

	"github.com/locdata/locharvest/pkg/decompose"
	"github.com/locdata/locharvest/pkg/flatten"
)

// Error log phases.
const (
	PhaseSearch    = "search"
	PhaseItems     = "items"
	PhaseResources = "resources"
)

// Run is everything one harvest produced.
type Run struct {
	ID         string // uuid
	Name       string // a later run with the same name replaces this one
	SearchURL  string
	StartedAt  time.Time
	FinishedAt time.Time
	Blocked    bool

	Search        []*flatten.Record
	Items         []decompose.ItemRow
	Resources     []decompose.ResourceRow
	SegmentFiles  []decompose.SegmentFileRow
	ResourceFiles []decompose.ResourceFileRow
	Errors        []ErrorRow
}

// ErrorRow is one error log entry tagged with the phase that produced it.
type ErrorRow struct {
	Phase      string
	ItemID     string
	ResourceID string
	Message    string
}

// RunStats summarises a stored run.
type RunStats struct {
	ID            string
	Name          string
	StartedAt     time.Time
	Blocked       bool
	Search        int
	Items         int
	Resources     int
	SegmentFiles  int
	ResourceFiles int
	Errors        int
}
