package node

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"forkwatch/logger"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BulkRequestTimeout bounds a single REST header request.
const BulkRequestTimeout = 8 * time.Second

// BulkHeaders loads up to count active-chain headers starting at start from
// the REST interface. A response that fails to decode is discarded as a whole.
func (b *BitcoinCore) BulkHeaders(ctx context.Context, count uint64, start chainhash.Hash) ([]wire.BlockHeader, error) {
	if !b.useREST {
		return nil, newFetchError(KindUnsupported, b.info, "rest headers", ErrNotSupported)
	}
	log := logger.ForNode(b.info.ID, b.info.Name)
	log.Debug("loading active-chain headers", zap.Stringer("start", start), zap.Uint64("count", count))

	url := fmt.Sprintf("http://%s/rest/headers/%d/%s.bin", b.address, count, start)
	res, err := b.rest.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, newFetchError(KindTransport, b.info, "rest headers", errors.Wrapf(err, "GET %s", url))
	}
	if res.StatusCode() != http.StatusOK {
		return nil, newFetchError(KindTransport, b.info, "rest headers",
			errors.Errorf("could not load headers from REST URL (%s): %s: %q",
				url, res.Status(), res.String()))
	}

	headers, err := DecodeHeaders(res.Body())
	if err != nil {
		return nil, newFetchError(KindDecode, b.info, "rest headers",
			errors.Wrap(err, "could not deserialize REST header response"))
	}

	log.Debug("loaded active-chain headers", zap.Stringer("start", start), zap.Int("count", len(headers)))
	return headers, nil
}

// DecodeHeaders splits raw into consecutive 80-byte serialized headers.
func DecodeHeaders(raw []byte) ([]wire.BlockHeader, error) {
	if len(raw)%wire.MaxBlockHeaderPayload != 0 {
		return nil, errors.Errorf("payload of %d bytes is not a multiple of %d",
			len(raw), wire.MaxBlockHeaderPayload)
	}

	headers := make([]wire.BlockHeader, len(raw)/wire.MaxBlockHeaderPayload)
	r := bytes.NewReader(raw)
	for i := range headers {
		if err := headers[i].Deserialize(r); err != nil {
			return nil, errors.Wrapf(err, "header %d", i)
		}
	}
	return headers, nil
}
