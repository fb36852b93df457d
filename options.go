package aggregate

import (
	"time"

	"github.com/dosco/graphjin/aggregate/v3/codec"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Strength is the collation comparison level.
type Strength int

const (
	Primary    Strength = 1
	Secondary  Strength = 2
	Tertiary   Strength = 3
	Quaternary Strength = 4
	Identical  Strength = 5
)

// Collation controls language-aware string comparison for the whole
// pipeline.
type Collation struct {
	Locale          string
	Strength        Strength
	CaseLevel       bool
	CaseFirst       string
	NumericOrdering bool
	Alternate       string
	MaxVariable     string
	Normalization   bool
	Backwards       bool
}

// Options are pipeline level settings passed to the sink next to the
// compiled stages.
type Options struct {
	AllowDiskUse             bool
	BatchSize                int32
	BypassDocumentValidation bool
	Collation                *Collation
	Comment                  string
	Hint                     any
	Let                      bson.D
	MaxAwaitTime             time.Duration
}

// Error types, shared with the codec, expr and stage packages.
type (
	UnsupportedTypeError            = codec.UnsupportedTypeError
	MalformedStageError             = codec.MalformedStageError
	InvalidExpressionPlacementError = codec.InvalidExpressionPlacementError
)
