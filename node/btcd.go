package node

import (
	"context"

	"forkwatch/models"
)

// Btcd is a btcd node. It has no REST interface and no getnetworkinfo, so it
// only offers the single-item calls.
type Btcd struct {
	*rpcNode
}

// NewBtcd creates a client for the node at address (host:port). The node must
// run with --notls. Blocking RPC calls are dispatched onto pool.
func NewBtcd(info models.NodeInfo, address, user, password string, pool *Pool) (*Btcd, error) {
	rpc, err := newRPCNode(info, address, user, password, pool)
	if err != nil {
		return nil, err
	}
	return &Btcd{rpcNode: rpc}, nil
}

func (b *Btcd) UsesBulkTransport() bool { return false }

func (b *Btcd) Version(context.Context) (string, error) {
	return "", newFetchError(KindUnsupported, b.info, "version", ErrNotSupported)
}
