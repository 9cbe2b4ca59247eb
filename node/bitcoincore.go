package node

import (
	"context"

	"forkwatch/models"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/go-resty/resty/v2"
)

// BitcoinCore is a Bitcoin Core node reached through its JSON-RPC interface,
// optionally with the REST interface enabled for bulk header fetches.
type BitcoinCore struct {
	*rpcNode
	useREST bool
	rest    *resty.Client
}

// NewBitcoinCore creates a client for the node at address (host:port).
// useREST must only be set when the node runs with -rest. Blocking RPC calls
// are dispatched onto pool.
func NewBitcoinCore(info models.NodeInfo, address, user, password string, useREST bool, pool *Pool) (*BitcoinCore, error) {
	rpc, err := newRPCNode(info, address, user, password, pool)
	if err != nil {
		return nil, err
	}
	return &BitcoinCore{
		rpcNode: rpc,
		useREST: useREST,
		rest:    resty.New().SetTimeout(BulkRequestTimeout),
	}, nil
}

func (b *BitcoinCore) UsesBulkTransport() bool { return b.useREST }

func (b *BitcoinCore) Version(ctx context.Context) (string, error) {
	var result *btcjson.GetNetworkInfoResult
	err := b.call(ctx, "getnetworkinfo", func() (err error) {
		result, err = b.client.GetNetworkInfo()
		return err
	})
	if err != nil {
		return "", err
	}
	return result.SubVersion, nil
}
