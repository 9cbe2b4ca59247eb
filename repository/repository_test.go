package repository_test

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forkwatch/db"
	"forkwatch/models"
	"forkwatch/repository"
)

func newRepo(t *testing.T) *repository.HeaderRepository {
	t.Helper()
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { ldb.Close() })
	return repository.NewHeaderRepository(ldb)
}

func header(height uint64, nonce uint32) models.HeaderInfo {
	return models.HeaderInfo{
		Height: height,
		Header: wire.BlockHeader{
			Version:    0x20000000,
			PrevBlock:  chainhash.Hash{byte(height)},
			MerkleRoot: chainhash.Hash{0xab},
			Timestamp:  time.Unix(1690000000, 0),
			Bits:       0x17034219,
			Nonce:      nonce,
		},
	}
}

func TestHeadersRoundTripThroughLevelDB(t *testing.T) {
	repo := newRepo(t)
	stored := []models.HeaderInfo{header(10, 1), header(11, 2), header(11, 3)}
	require.NoError(t, repo.PutHeaders(stored))

	got, err := repo.GetAllHeaders()
	require.NoError(t, err)
	require.Len(t, got, 3)

	byHash := make(map[chainhash.Hash]models.HeaderInfo)
	for _, h := range got {
		byHash[h.Hash()] = h
	}
	for _, want := range stored {
		h, ok := byHash[want.Hash()]
		require.True(t, ok)
		assert.Equal(t, want.Height, h.Height)
		assert.Equal(t, want.Header.Timestamp.Unix(), h.Header.Timestamp.Unix())
	}

	// rewriting the same header replaces it
	require.NoError(t, repo.PutHeaders(stored[:1]))
	got, err = repo.GetAllHeaders()
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestTipsDoNotLeakIntoHeaders(t *testing.T) {
	repo := newRepo(t)

	tips, err := repo.GetTips(4)
	require.NoError(t, err)
	assert.Nil(t, tips)

	want := []models.ChainTip{
		{Height: 800000, Hash: chainhash.Hash{1}, Status: models.StatusActive},
		{Height: 799990, Hash: chainhash.Hash{2}, BranchLen: 1, Status: models.StatusValidFork},
	}
	require.NoError(t, repo.PutTips(4, want))
	require.NoError(t, repo.PutTips(5, want[:1]))

	tips, err = repo.GetTips(4)
	require.NoError(t, err)
	assert.Equal(t, want, tips)

	headers, err := repo.GetAllHeaders()
	require.NoError(t, err)
	assert.Empty(t, headers)
}
