package poller_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forkwatch/metrics"
	"forkwatch/models"
	"forkwatch/node"
	"forkwatch/poller"
	"forkwatch/tree"
)

type mockRepo struct {
	mu       sync.Mutex
	headers  map[chainhash.Hash]models.HeaderInfo
	tips     map[uint8][]models.ChainTip
	failPuts int // number of PutHeaders calls still to fail
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		headers: make(map[chainhash.Hash]models.HeaderInfo),
		tips:    make(map[uint8][]models.ChainTip),
	}
}

func (m *mockRepo) PutHeaders(headers []models.HeaderInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPuts > 0 {
		m.failPuts--
		return errors.New("disk full")
	}
	for _, h := range headers {
		m.headers[h.Hash()] = h
	}
	return nil
}

func (m *mockRepo) GetAllHeaders() ([]models.HeaderInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.HeaderInfo, 0, len(m.headers))
	for _, h := range m.headers {
		out = append(out, h)
	}
	return out, nil
}

func (m *mockRepo) PutTips(nodeID uint8, tips []models.ChainTip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tips[nodeID] = tips
	return nil
}

func (m *mockRepo) GetTips(nodeID uint8) ([]models.ChainTip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tips[nodeID], nil
}

// stubNode serves a single linear chain.
type stubNode struct {
	mu           sync.Mutex
	info         models.NodeInfo
	chain        []models.HeaderInfo
	tipsErr      error
	version      string
	versionErr   error
	versionCalls int
	polls        int
}

func newStubNode(id uint8, chain []models.HeaderInfo) *stubNode {
	return &stubNode{info: models.NodeInfo{ID: id, Name: "stub"}, chain: chain, version: "/Stub:0.1/"}
}

func (s *stubNode) Info() models.NodeInfo     { return s.info }
func (s *stubNode) UsesBulkTransport() bool   { return false }
func (s *stubNode) ConnectionAddress() string { return "127.0.0.1:18443" }

func (s *stubNode) Version(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versionCalls++
	return s.version, s.versionErr
}

func (s *stubNode) HeaderByHash(_ context.Context, hash chainhash.Hash) (*wire.BlockHeader, error) {
	for _, h := range s.chain {
		if h.Hash() == hash {
			header := h.Header
			return &header, nil
		}
	}
	return nil, &node.FetchError{Kind: node.KindTransport, Node: s.info, Op: "getblockheader", Err: errors.New("not found")}
}

func (s *stubNode) HashByHeight(_ context.Context, height uint64) (*chainhash.Hash, error) {
	if height >= uint64(len(s.chain)) {
		return nil, &node.FetchError{Kind: node.KindTransport, Node: s.info, Op: "getblockhash", Err: errors.New("out of range")}
	}
	hash := s.chain[height].Hash()
	return &hash, nil
}

func (s *stubNode) Tips(context.Context) ([]models.ChainTip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.tipsErr != nil {
		return nil, s.tipsErr
	}
	top := s.chain[len(s.chain)-1]
	return []models.ChainTip{{Height: top.Height, Hash: top.Hash(), Status: models.StatusActive}}, nil
}

func linearChain(n int) []models.HeaderInfo {
	var prev chainhash.Hash
	out := make([]models.HeaderInfo, n)
	for i := range out {
		h := wire.BlockHeader{
			Version:   2,
			PrevBlock: prev,
			Timestamp: time.Unix(1600000000+int64(i)*600, 0),
			Bits:      0x207fffff,
			Nonce:     uint32(i),
		}
		out[i] = models.HeaderInfo{Height: uint64(i), Header: h}
		prev = h.BlockHash()
	}
	return out
}

func TestPollOnceAddsAndPersistsHeaders(t *testing.T) {
	chain := linearChain(20)
	n := newStubNode(1, chain)
	repo := newMockRepo()
	tr := tree.New()
	p := poller.New(tr, repo, []node.Node{n}, time.Minute, 0)

	require.NoError(t, p.PollOnce(context.Background(), n))

	// empty tree: only the tip and the safety margin below it
	assert.Equal(t, 5, tr.Len())
	assert.Len(t, repo.headers, 5)
	assert.Len(t, repo.tips[1], 1)

	statuses := p.Statuses()
	require.Len(t, statuses, 1)
	s := statuses[0]
	assert.Equal(t, "/Stub:0.1/", s.Version)
	assert.True(t, s.Reachable)
	assert.Empty(t, s.LastError)
	assert.False(t, s.LastPoll.IsZero())
	assert.Equal(t, chain[19].Hash(), s.Tips[0].Hash)

	// nothing new on the second poll, version is not asked again
	require.NoError(t, p.PollOnce(context.Background(), n))
	assert.Len(t, repo.headers, 5)
	assert.Equal(t, 1, n.versionCalls)
}

func TestPollOnceRecordsFailure(t *testing.T) {
	n := newStubNode(2, linearChain(10))
	n.tipsErr = &node.FetchError{Kind: node.KindTransport, Node: n.info, Op: "getchaintips", Err: errors.New("connection refused")}
	repo := newMockRepo()
	tr := tree.New()
	p := poller.New(tr, repo, []node.Node{n}, time.Minute, 0)

	err := p.PollOnce(context.Background(), n)
	require.Error(t, err)
	assert.True(t, node.IsKind(err, node.KindTransport))
	assert.True(t, tr.IsEmpty())
	assert.Empty(t, repo.headers)

	s := p.Statuses()[0]
	assert.False(t, s.Reachable)
	assert.Contains(t, s.LastError, "connection refused")
}

func TestPollOnceRetriesHeadersThatFailedToPersist(t *testing.T) {
	n := newStubNode(3, linearChain(10))
	repo := newMockRepo()
	repo.failPuts = 1
	tr := tree.New()
	p := poller.New(tr, repo, []node.Node{n}, time.Minute, 0)

	err := p.PollOnce(context.Background(), n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, p.Statuses()[0].Reachable)
	// nothing the store lacks may enter the tree
	assert.True(t, tr.IsEmpty())

	require.NoError(t, p.PollOnce(context.Background(), n))
	assert.Equal(t, 5, tr.Len())
	for _, h := range tr.Headers() {
		_, ok := repo.headers[h.Hash()]
		assert.True(t, ok, "header at height %d not persisted", h.Height)
	}

	reloaded := tree.New()
	loaded, err := reloaded.Load(repo)
	require.NoError(t, err)
	assert.Equal(t, tr.Len(), loaded)
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestRecordTreeMetrics(t *testing.T) {
	main := linearChain(8)
	branch := linearChain(1)
	branch[0].Header.PrevBlock = main[4].Hash()
	branch[0].Height = 5

	repo := newMockRepo()
	require.NoError(t, repo.PutHeaders(append(main, branch...)))
	tr := tree.New()
	_, err := tr.Load(repo)
	require.NoError(t, err)

	p := poller.New(tr, repo, nil, time.Minute, 0)
	p.RecordTreeMetrics()
	assert.Equal(t, float64(9), gaugeValue(t, metrics.TreeHeaders))
	assert.Equal(t, float64(1), gaugeValue(t, metrics.TreeForks))
}

func TestVersionUnsupportedIsNotRetried(t *testing.T) {
	n := newStubNode(4, linearChain(10))
	n.versionErr = &node.FetchError{Kind: node.KindUnsupported, Node: n.info, Op: "version", Err: node.ErrNotSupported}
	n.version = ""
	p := poller.New(tree.New(), newMockRepo(), []node.Node{n}, time.Minute, 0)

	require.NoError(t, p.PollOnce(context.Background(), n))
	require.NoError(t, p.PollOnce(context.Background(), n))
	assert.Equal(t, 1, n.versionCalls)
	assert.Empty(t, p.Statuses()[0].Version)
}

func TestRestoreTips(t *testing.T) {
	chain := linearChain(3)
	repo := newMockRepo()
	repo.tips[5] = []models.ChainTip{{Height: 2, Hash: chain[2].Hash(), Status: models.StatusActive}}
	a := newStubNode(5, chain)
	b := newStubNode(6, chain)
	p := poller.New(tree.New(), repo, []node.Node{b, a}, time.Minute, 0)

	require.NoError(t, p.RestoreTips())
	statuses := p.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, uint8(5), statuses[0].Node.ID)
	assert.Len(t, statuses[0].Tips, 1)
	assert.Empty(t, statuses[1].Tips)
	assert.Equal(t, "*poller_test.stubNode", statuses[0].Implementation)
}

func TestRunPollsUntilCancelled(t *testing.T) {
	n := newStubNode(7, linearChain(10))
	p := poller.New(tree.New(), newMockRepo(), []node.Node{n}, 5*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	assert.Eventually(t, func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.polls >= 3
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
