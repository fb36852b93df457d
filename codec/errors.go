package codec

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrNoResolver is returned when a stage targets an entity type but the
// compile call was given no CollectionResolver.
var ErrNoResolver = errors.New("codec: no collection resolver configured")

// UnsupportedTypeError reports a value whose type has no encoder.
type UnsupportedTypeError struct {
	Type reflect.Type

	// Stage is the operator name of the enclosing stage, if any.
	Stage string

	// Path is the dotted position of the value inside the stage body.
	Path string
}

func (e *UnsupportedTypeError) Error() string {
	msg := fmt.Sprintf("codec: no encoder registered for type %s", e.Type)
	if e.Stage != "" {
		msg += " in " + e.Stage
	}
	if e.Path != "" {
		msg += " at " + e.Path
	}
	return msg
}

// MalformedStageError reports a stage missing a structurally required
// field, or holding a value the stage shape cannot carry.
type MalformedStageError struct {
	Stage  string
	Field  string
	Reason string
}

func (e *MalformedStageError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "missing required field"
	}
	if e.Field == "" {
		return fmt.Sprintf("codec: malformed %s stage: %s", e.Stage, reason)
	}
	return fmt.Sprintf("codec: malformed %s stage: %s: %s", e.Stage, e.Field, reason)
}

// InvalidExpressionPlacementError reports an operator used where the
// stage shape does not allow it.
//
// Accumulator is true when an accumulator-only operator (such as $push)
// appears outside a grouping stage, and false when a grouping stage output
// field holds something other than an accumulator.
type InvalidExpressionPlacementError struct {
	Operator    string
	Stage       string
	Path        string
	Accumulator bool
}

func (e *InvalidExpressionPlacementError) Error() string {
	where := e.Stage
	if e.Path != "" {
		where += " at " + e.Path
	}
	if e.Accumulator {
		return fmt.Sprintf("codec: accumulator %s is only valid in a grouping stage (used in %s)", e.Operator, where)
	}
	return fmt.Sprintf("codec: %s is not an accumulator (used as output field in %s)", e.Operator, where)
}

// IsUnsupportedType reports whether err is or wraps an UnsupportedTypeError.
func IsUnsupportedType(err error) bool {
	var e *UnsupportedTypeError
	return errors.As(err, &e)
}

// IsMalformedStage reports whether err is or wraps a MalformedStageError.
func IsMalformedStage(err error) bool {
	var e *MalformedStageError
	return errors.As(err, &e)
}

// IsInvalidPlacement reports whether err is or wraps an
// InvalidExpressionPlacementError.
func IsInvalidPlacement(err error) bool {
	var e *InvalidExpressionPlacementError
	return errors.As(err, &e)
}
