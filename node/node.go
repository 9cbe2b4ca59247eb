// Package node talks to full-node backends and computes which block headers
// are missing from the shared header tree.
//
// A backend implements Node, the minimal set of primitive queries. The
// synchronisation logic in NewHeaders, NewActiveHeaders and
// NewNonActiveHeaders is built only from those primitives, so every backend
// gets it without reimplementing anything.
package node

import (
	"context"

	"forkwatch/models"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Node is the capability set every backend provides.
type Node interface {
	Info() models.NodeInfo
	// UsesBulkTransport reports whether active-chain headers can be fetched
	// in batches through BulkNode.
	UsesBulkTransport() bool
	ConnectionAddress() string
	// Version returns the node's user agent. Backends without such a call
	// return an error of KindUnsupported.
	Version(ctx context.Context) (string, error)
	HeaderByHash(ctx context.Context, hash chainhash.Hash) (*wire.BlockHeader, error)
	HashByHeight(ctx context.Context, height uint64) (*chainhash.Hash, error)
	Tips(ctx context.Context) ([]models.ChainTip, error)
}

// BulkNode is a Node that can return a forward run of active-chain headers
// starting at a given hash in one request.
type BulkNode interface {
	Node
	BulkHeaders(ctx context.Context, count uint64, start chainhash.Hash) ([]wire.BlockHeader, error)
}

var (
	_ BulkNode = (*BitcoinCore)(nil)
	_ Node     = (*Btcd)(nil)
)
