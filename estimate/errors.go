package estimate

import (
	"errors"
	"fmt"
	"strings"

	"tenderestimate/services"
)

var (
	ErrInvalidCoefficient  = services.ErrInvalidCoefficient
	ErrInvalidCurrencyRate = services.ErrInvalidCurrencyRate
	ErrInvalidQuantity     = services.ErrInvalidQuantity
	ErrUnsupportedCurrency = services.ErrUnsupportedCurrency
	ErrInvalidDelivery     = services.ErrInvalidDeliveryTerms

	ErrNoOpTransfer     = errors.New("source and target work are the same")
	ErrInvalidTransfer  = errors.New("invalid transfer")
	ErrStaleConflict    = errors.New("conflict is no longer current")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrPositionNotFound = errors.New("position not found")
	ErrItemNotFound     = errors.New("item not found")
	ErrLinkNotFound     = errors.New("link not found")
)

var domainErrors = []error{
	ErrInvalidCoefficient,
	ErrInvalidCurrencyRate,
	ErrInvalidQuantity,
	ErrUnsupportedCurrency,
	ErrInvalidDelivery,
	ErrNoOpTransfer,
	ErrInvalidTransfer,
	ErrStaleConflict,
	ErrStoreUnavailable,
	ErrPositionNotFound,
	ErrItemNotFound,
	ErrLinkNotFound,
}

// IsValidation reports whether err was raised before any store call because
// the input itself was malformed.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidCoefficient,
		ErrInvalidCurrencyRate,
		ErrInvalidQuantity,
		ErrUnsupportedCurrency,
		ErrInvalidDelivery,
		ErrNoOpTransfer,
		ErrInvalidTransfer,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isDomain(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// OpError carries the ids and display names a caller needs to explain a
// failed operation to the operator.
type OpError struct {
	Op           string
	PositionID   string
	MaterialID   string
	WorkID       string
	MaterialName string
	WorkName     string
	Err          error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	for _, kv := range [][2]string{
		{"position", e.PositionID},
		{"material", e.MaterialID},
		{"work", e.WorkID},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, " %s=%s", kv[0], kv[1])
		}
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OpError) Unwrap() error { return e.Err }

// storeError classifies a store failure. Anything the store did not already
// map onto a domain error is treated as the store being unavailable.
func storeError(op string, ids OpError, err error) error {
	if err == nil {
		return nil
	}
	if !isDomain(err) {
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	ids.Op = op
	ids.Err = err
	return &ids
}
