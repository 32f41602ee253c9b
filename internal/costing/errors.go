package costing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrBOMCycle is matched by every *CycleError.
	ErrBOMCycle = errors.New("costing: bom cycle detected")
	// ErrBOMNotFound is returned under the strict policy when a component has no active bom.
	ErrBOMNotFound = errors.New("costing: active bom not found")
	// ErrAmbiguousBOM signals more than one active bom for a product.
	ErrAmbiguousBOM = errors.New("costing: multiple active boms")
	// ErrPriceResolution is matched by every *PriceError.
	ErrPriceResolution = errors.New("costing: price resolution failed")
	// ErrAmbiguousPrimaryInput signals more than one active primary input.
	ErrAmbiguousPrimaryInput = errors.New("costing: multiple primary inputs")
	// ErrVolumeMapRequired is returned when the day volume map is mandatory but absent.
	ErrVolumeMapRequired = errors.New("costing: volume map required")
	// ErrDayNotClosed is returned when the day closure gate is on and the day is open.
	ErrDayNotClosed     = errors.New("costing: expense day not closed")
	ErrProductNotFound  = errors.New("costing: product not found")
	ErrExpenseNotFound  = errors.New("costing: expense not found")
	ErrSnapshotNotFound = errors.New("costing: snapshot not found")
	ErrInvalidBOMLine   = errors.New("costing: invalid bom line")
	ErrInvalidEnum      = errors.New("costing: invalid enum value")
	ErrInvalidInput     = errors.New("costing: invalid input")
)

// CycleError carries the product path that closed a loop, ending with the
// repeated id.
type CycleError struct {
	Path []int64
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Path))
	for _, id := range e.Path {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return fmt.Sprintf("%s: %s", ErrBOMCycle.Error(), strings.Join(parts, " -> "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrBOMCycle
}

// PriceError explains why an expense line could not be priced.
type PriceError struct {
	ExpenseID int64
	Reason    string
}

func (e *PriceError) Error() string {
	return fmt.Sprintf("%s: expense %d: %s", ErrPriceResolution.Error(), e.ExpenseID, e.Reason)
}

func (e *PriceError) Is(target error) bool {
	return target == ErrPriceResolution
}

// MissingBOMError names the product lacking an active bom.
type MissingBOMError struct {
	ProductID int64
}

func (e *MissingBOMError) Error() string {
	return fmt.Sprintf("%s: product %d", ErrBOMNotFound.Error(), e.ProductID)
}

func (e *MissingBOMError) Is(target error) bool {
	return target == ErrBOMNotFound
}

// ErrorKind classifies a computation error for metrics labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBOMCycle):
		return "bom_cycle"
	case errors.Is(err, ErrBOMNotFound):
		return "bom_not_found"
	case errors.Is(err, ErrAmbiguousBOM), errors.Is(err, ErrAmbiguousPrimaryInput):
		return "ambiguous"
	case errors.Is(err, ErrPriceResolution):
		return "price"
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrExpenseNotFound):
		return "not_found"
	case errors.Is(err, ErrVolumeMapRequired):
		return "volume_map"
	case errors.Is(err, ErrInvalidBOMLine), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidEnum):
		return "invalid"
	}
	return "other"
}
