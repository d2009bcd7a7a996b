// internal/blockchain/solbc/rpc/errors.go
package rpc

import (
	"context"
	"errors"
	"fmt"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrNoActiveClients is returned when the pool has no node to try.
	ErrNoActiveClients = errors.New("no active RPC clients available")

	// ErrNoEndpoints is returned when the pool is built without URLs.
	ErrNoEndpoints = errors.New("no RPC endpoints configured")
)

// Error carries the node and method a failed call was made against.
type Error struct {
	Err     error
	NodeURL string
	Method  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Method, e.NodeURL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(err error, nodeURL, method string) error {
	return &Error{
		Err:     err,
		NodeURL: nodeURL,
		Method:  method,
	}
}

// IsNodeFailure reports whether err says nothing about the request itself:
// the node could not be reached or did not answer. A JSON-RPC error object
// or an empty result means the node answered, so another node would
// answer the same way.
func IsNodeFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, solanarpc.ErrNotFound) {
		return false
	}
	var rpcErr *jsonrpc.RPCError
	return !errors.As(err, &rpcErr)
}
