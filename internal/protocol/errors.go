package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Query layer.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrInvalidQuery = "E_INVALID_QUERY"
	ErrOutOfRange   = "E_OUT_OF_RANGE"
	ErrNotResident  = "E_NOT_RESIDENT"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrBadRequest:      {},
	ErrInvalidQuery:    {},
	ErrOutOfRange:      {},
	ErrNotResident:     {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
