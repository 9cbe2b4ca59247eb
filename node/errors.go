package node

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"forkwatch/models"

	"github.com/pkg/errors"
)

// Kind classifies a failed fetch.
type Kind int

const (
	// KindTransport covers connection errors, timeouts, RPC error replies and
	// non-200 REST responses.
	KindTransport Kind = iota + 1
	// KindDecode covers malformed binary headers and malformed RPC results.
	KindDecode
	// KindDataConsistency covers replies that are well-formed but unusable,
	// such as a tip list without an active tip.
	KindDataConsistency
	// KindUnsupported is returned for calls a backend does not offer.
	KindUnsupported
	// KindDispatch covers failures of the worker pool running a blocking
	// call: cancellation, deadline or a panic in the call.
	KindDispatch
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindDataConsistency:
		return "data-consistency"
	case KindUnsupported:
		return "unsupported"
	case KindDispatch:
		return "dispatch"
	}
	return "unknown"
}

var (
	ErrNotSupported = errors.New("not supported")
	ErrNoActiveTip  = errors.New("no 'active' chain tip returned")
	ErrEmptyBatch   = errors.New("bulk request returned no headers")
)

// FetchError is the error type returned by every fallible Node operation.
type FetchError struct {
	Kind Kind
	Node models.NodeInfo
	Op   string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s failed (%s): %v", e.Node, e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func newFetchError(kind Kind, info models.NodeInfo, op string, err error) *FetchError {
	return &FetchError{Kind: kind, Node: info, Op: op, Err: err}
}

// KindOf returns the kind of the first FetchError in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsKind reports whether err is a FetchError of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// classify decides whether a client library error came from decoding a
// reply or from talking to the node.
func classify(err error) Kind {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		byteErr   hex.InvalidByteError
	)
	switch {
	case errors.As(err, &syntaxErr),
		errors.As(err, &typeErr),
		errors.As(err, &byteErr),
		errors.Is(err, hex.ErrLength),
		errors.Is(err, io.ErrUnexpectedEOF):
		return KindDecode
	}
	return KindTransport
}
