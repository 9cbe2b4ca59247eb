package node

import (
	"context"

	"forkwatch/logger"
	"forkwatch/models"
	"forkwatch/tree"

	"go.uber.org/zap"
)

const (
	// ScanSafetyMargin is how far below the lowest fork root the active-chain
	// scan starts on an empty tree, to cover reorgs near the tip that were
	// already partially recorded.
	ScanSafetyMargin = 5
	// BulkBatchSize is the most headers requested in one bulk fetch.
	BulkBatchSize = 2000
)

// NewHeaders returns the headers n knows about that are missing from t: the
// active-chain headers followed by the headers of non-active branches. The
// two parts are not merged or re-sorted. The first failure aborts the whole
// fetch and nothing partial is returned.
func NewHeaders(ctx context.Context, n Node, tips []models.ChainTip, t *tree.Tree, minForkHeight uint64) ([]models.HeaderInfo, error) {
	active, err := NewActiveHeaders(ctx, n, tips, t, minForkHeight)
	if err != nil {
		return nil, err
	}
	nonActive, err := NewNonActiveHeaders(ctx, n, tips, t, minForkHeight)
	if err != nil {
		return nil, err
	}
	return append(active, nonActive...), nil
}

// NewActiveHeaders returns the missing headers of the chain n considers
// active, ascending by height.
//
// The scan covers heights above the tree's highest leaf, or above the lowest
// qualifying fork root minus ScanSafetyMargin when the tree is empty, up to
// the active tip. An empty result without error means no tip forks off above
// minForkHeight.
func NewActiveHeaders(ctx context.Context, n Node, tips []models.ChainTip, t *tree.Tree, minForkHeight uint64) ([]models.HeaderInfo, error) {
	info := n.Info()
	log := logger.ForNode(info.ID, info.Name)

	firstFork, ok := firstForkTip(tips, minForkHeight)
	if !ok {
		log.Warn("No tip qualifies as first fork tip. Is min_fork_height reasonable for this network?",
			zap.Uint64("min_fork_height", minForkHeight), zap.Int("tips", len(tips)))
		return nil, nil
	}

	scanStart := uint64(0)
	if root := firstFork.ForkRootHeight(); root > ScanSafetyMargin {
		scanStart = root - ScanSafetyMargin
	}

	currentHeight := scanStart
	if height, ok := t.MaxLeafHeight(); ok {
		currentHeight = height
	}

	active, ok := activeTip(tips)
	if !ok {
		return nil, newFetchError(KindDataConsistency, info, "getchaintips", ErrNoActiveTip)
	}

	if active.Height <= currentHeight {
		return nil, nil
	}
	log.Debug("Scanning active chain",
		zap.Uint64("from", currentHeight+1), zap.Uint64("to", active.Height), zap.Bool("bulk", n.UsesBulkTransport()))

	if n.UsesBulkTransport() {
		bulk, ok := n.(BulkNode)
		if !ok {
			return nil, newFetchError(KindUnsupported, info, "rest headers", ErrNotSupported)
		}
		return bulkActiveHeaders(ctx, bulk, t, currentHeight+1, active.Height)
	}

	var headers []models.HeaderInfo
	for height := currentHeight + 1; height <= active.Height; height++ {
		hash, err := n.HashByHeight(ctx, height)
		if err != nil {
			return nil, err
		}
		if t.Contains(*hash) {
			continue
		}
		header, err := n.HeaderByHash(ctx, *hash)
		if err != nil {
			return nil, err
		}
		headers = append(headers, models.HeaderInfo{Height: height, Header: *header})
	}
	return headers, nil
}

func bulkActiveHeaders(ctx context.Context, n BulkNode, t *tree.Tree, from, to uint64) ([]models.HeaderInfo, error) {
	var headers []models.HeaderInfo
	height := from
	for height <= to {
		hash, err := n.HashByHeight(ctx, height)
		if err != nil {
			return nil, err
		}
		if t.Contains(*hash) {
			height++
			continue
		}

		count := to - height + 1
		if count > BulkBatchSize {
			count = BulkBatchSize
		}
		batch, err := n.BulkHeaders(ctx, count, *hash)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return nil, newFetchError(KindDecode, n.Info(), "rest headers", ErrEmptyBatch)
		}

		for i, header := range batch {
			headers = append(headers, models.HeaderInfo{Height: height + uint64(i), Header: header})
		}
		height += uint64(len(batch))
	}
	return headers, nil
}

// NewNonActiveHeaders walks every non-active branch forking off above
// minForkHeight back to its fork root, unless the branch tip is already in
// the tree. Only the tip is checked: a branch whose tip advanced since the
// last poll is fetched again in full.
func NewNonActiveHeaders(ctx context.Context, n Node, tips []models.ChainTip, t *tree.Tree, minForkHeight uint64) ([]models.HeaderInfo, error) {
	info := n.Info()
	log := logger.ForNode(info.ID, info.Name)

	var headers []models.HeaderInfo
	for _, tip := range tips {
		if tip.Status == models.StatusActive || tip.ForkRootHeight() <= minForkHeight {
			continue
		}
		if t.Contains(tip.Hash) {
			continue
		}

		next := tip.Hash
		for i := uint64(0); i <= tip.BranchLen && i <= tip.Height; i++ {
			height := tip.Height - i
			log.Debug("loading non-active-chain header",
				zap.Stringer("hash", next), zap.Uint64("height", height))

			header, err := n.HeaderByHash(ctx, next)
			if err != nil {
				return nil, err
			}
			headers = append(headers, models.HeaderInfo{Height: height, Header: *header})
			next = header.PrevBlock
		}
	}
	return headers, nil
}

// firstForkTip returns the tip with the lowest fork root above minForkHeight.
func firstForkTip(tips []models.ChainTip, minForkHeight uint64) (models.ChainTip, bool) {
	var (
		first models.ChainTip
		found bool
	)
	for _, tip := range tips {
		root := tip.ForkRootHeight()
		if root <= minForkHeight {
			continue
		}
		if !found || root < first.ForkRootHeight() {
			first = tip
			found = true
		}
	}
	return first, found
}

// activeTip returns the last tip with status active.
func activeTip(tips []models.ChainTip) (models.ChainTip, bool) {
	var (
		active models.ChainTip
		found  bool
	)
	for _, tip := range tips {
		if tip.Status == models.StatusActive {
			active = tip
			found = true
		}
	}
	return active, found
}
