package node

import (
	"context"
	"encoding/json"

	"forkwatch/logger"
	"forkwatch/models"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// rpcNode holds the single-item JSON-RPC calls both backends answer the same
// way. Every call runs on pool, since rpcclient takes no context.
type rpcNode struct {
	info    models.NodeInfo
	address string
	client  *rpcclient.Client
	pool    *Pool
}

func newRPCNode(info models.NodeInfo, address, user, password string, pool *Pool) (*rpcNode, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         address,
		User:         user,
		Pass:         password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		logger.ForNode(info.ID, info.Name).Error("Could not create a RPC client", zap.Error(err))
		return nil, newFetchError(KindTransport, info, "connect", err)
	}
	if pool == nil {
		pool = NewPool(DefaultWorkers, 0)
	}
	return &rpcNode{info: info, address: address, client: client, pool: pool}, nil
}

func (r *rpcNode) Info() models.NodeInfo { return r.info }

func (r *rpcNode) ConnectionAddress() string { return r.address }

// Close stops the RPC client.
func (r *rpcNode) Close() {
	r.client.Shutdown()
}

// call runs fn on the pool and maps whatever fails into a FetchError.
func (r *rpcNode) call(ctx context.Context, op string, fn func() error) error {
	err := r.pool.Do(ctx, fn)
	if err == nil {
		return nil
	}

	var fe *FetchError
	switch {
	case errors.As(err, &fe):
		return fe
	case isDispatchError(err):
		return newFetchError(KindDispatch, r.info, op, err)
	}

	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return newFetchError(KindTransport, r.info, op,
			errors.Wrapf(err, "rpc error code %d", rpcErr.Code))
	}
	return newFetchError(classify(err), r.info, op, err)
}

func (r *rpcNode) HashByHeight(ctx context.Context, height uint64) (*chainhash.Hash, error) {
	var hash *chainhash.Hash
	err := r.call(ctx, "getblockhash", func() (err error) {
		hash, err = r.client.GetBlockHash(int64(height))
		return err
	})
	if err != nil {
		return nil, err
	}
	return hash, nil
}

func (r *rpcNode) HeaderByHash(ctx context.Context, hash chainhash.Hash) (*wire.BlockHeader, error) {
	var header *wire.BlockHeader
	err := r.call(ctx, "getblockheader", func() (err error) {
		header, err = r.client.GetBlockHeader(&hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return header, nil
}

// Tips goes through RawRequest so both backends decode the same reply shape.
func (r *rpcNode) Tips(ctx context.Context) ([]models.ChainTip, error) {
	var tips []models.ChainTip
	err := r.call(ctx, "getchaintips", func() error {
		raw, err := r.client.RawRequest("getchaintips", []json.RawMessage{})
		if err != nil {
			return err
		}
		var rawTips []models.RawChainTip
		if err := json.Unmarshal(raw, &rawTips); err != nil {
			return newFetchError(KindDecode, r.info, "getchaintips", err)
		}
		tips, err = models.ToChainTips(rawTips)
		if err != nil {
			return newFetchError(KindDecode, r.info, "getchaintips", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tips, nil
}
