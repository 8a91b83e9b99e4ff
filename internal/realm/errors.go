package realm

import "errors"

// ErrNotFound is returned when a settlement, player or node does not exist.
var ErrNotFound = errors.New("not found")

// ErrRejected wraps every research validation failure.
var ErrRejected = errors.New("rejected")

// Research rejection reasons. Each wraps ErrRejected.
var (
	ErrNodeNotFound          = reject("research node not found")
	ErrAlreadyUnlocked       = reject("research already unlocked")
	ErrPlayerNotFound        = reject("player not found")
	ErrLevelTooLow           = reject("player level too low")
	ErrNoSettlements         = reject("player owns no settlements")
	ErrInsufficientResources = reject("insufficient pooled resources")
)

// ErrInvalidOrder is returned when a queued order is malformed.
var ErrInvalidOrder = errors.New("invalid order")

// ErrInvalidPayload is returned when an order's payload fails its schema.
var ErrInvalidPayload = errors.New("invalid payload")

type rejection struct{ msg string }

func (r *rejection) Error() string { return r.msg }
func (r *rejection) Unwrap() error { return ErrRejected }

func reject(msg string) error { return &rejection{msg: msg} }
