// Package poller keeps the header tree up to date by polling every configured
// node on a fixed interval.
package poller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"forkwatch/logger"
	"forkwatch/metrics"
	"forkwatch/models"
	"forkwatch/node"
	"forkwatch/repository"
	"forkwatch/tree"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status is the last known state of one polled node.
type Status struct {
	Node           models.NodeInfo   `json:"node"`
	Implementation string            `json:"implementation"`
	UsesREST       bool              `json:"uses_rest"`
	Version        string            `json:"version,omitempty"`
	Tips           []models.ChainTip `json:"tips"`
	LastPoll       time.Time         `json:"last_poll"`
	LastError      string            `json:"last_error,omitempty"`
	Reachable      bool              `json:"reachable"`
}

// Poller runs one polling loop per node against a shared tree.
type Poller struct {
	tree          *tree.Tree
	repo          repository.HeaderRepositoryInterface
	nodes         []node.Node
	interval      time.Duration
	minForkHeight uint64

	mux      sync.RWMutex
	status   map[uint8]*Status
	versions map[uint8]bool // version lookup attempted
}

func New(t *tree.Tree, repo repository.HeaderRepositoryInterface, nodes []node.Node, interval time.Duration, minForkHeight uint64) *Poller {
	p := &Poller{
		tree:          t,
		repo:          repo,
		nodes:         nodes,
		interval:      interval,
		minForkHeight: minForkHeight,
		status:        make(map[uint8]*Status, len(nodes)),
		versions:      make(map[uint8]bool, len(nodes)),
	}
	for _, n := range nodes {
		p.status[n.Info().ID] = &Status{
			Node:           n.Info(),
			Implementation: implementation(n),
			UsesREST:       n.UsesBulkTransport(),
		}
	}
	return p
}

func implementation(n node.Node) string {
	switch n.(type) {
	case *node.BitcoinCore:
		return "bitcoincore"
	case *node.Btcd:
		return "btcd"
	}
	return fmt.Sprintf("%T", n)
}

// RestoreTips loads the tips persisted by an earlier run so the API has
// something to show before the first poll completes.
func (p *Poller) RestoreTips() error {
	for _, n := range p.nodes {
		id := n.Info().ID
		tips, err := p.repo.GetTips(id)
		if err != nil {
			return errors.Wrapf(err, "restoring tips of %s", n.Info())
		}
		if tips == nil {
			continue
		}
		p.mux.Lock()
		p.status[id].Tips = tips
		p.mux.Unlock()
	}
	return nil
}

// Run polls every node until ctx is cancelled. The first poll happens
// immediately. Failed polls are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range p.nodes {
		n := n
		g.Go(func() error {
			p.loop(ctx, n)
			return nil
		})
	}
	return g.Wait()
}

func (p *Poller) loop(ctx context.Context, n node.Node) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		_ = p.PollOnce(ctx, n)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce fetches the node's tips and every header the tree is missing,
// then inserts and persists them. Nothing is inserted when any fetch fails.
func (p *Poller) PollOnce(ctx context.Context, n node.Node) error {
	info := n.Info()
	log := logger.ForNode(info.ID, info.Name)
	start := time.Now()
	defer func() {
		metrics.PollDuration.WithLabelValues(info.Name).Observe(time.Since(start).Seconds())
	}()

	p.lookupVersion(ctx, n)

	tips, err := n.Tips(ctx)
	if err != nil {
		return p.fail(ctx, n, err)
	}
	for _, tip := range tips {
		if tip.Status == models.StatusActive {
			metrics.TipHeight.WithLabelValues(info.Name).Set(float64(tip.Height))
		}
	}

	headers, err := node.NewHeaders(ctx, n, tips, p.tree, p.minForkHeight)
	if err != nil {
		return p.fail(ctx, n, err)
	}

	// stored before inserted: a header the tree knows is never fetched again
	if len(headers) > 0 {
		if err := p.repo.PutHeaders(headers); err != nil {
			return p.fail(ctx, n, errors.Wrap(err, "persisting headers"))
		}
	}
	added := p.tree.Insert(headers...)
	if len(added) > 0 {
		metrics.HeadersFetched.WithLabelValues(info.Name).Add(float64(len(added)))
		p.RecordTreeMetrics()
		log.Info("Added headers to the tree",
			zap.Int("fetched", len(headers)),
			zap.Int("added", len(added)),
			zap.Uint64("first_height", added[0].Height))
	}
	if err := p.repo.PutTips(info.ID, tips); err != nil {
		return p.fail(ctx, n, errors.Wrap(err, "persisting tips"))
	}

	p.mux.Lock()
	s := p.status[info.ID]
	s.Tips = tips
	s.LastPoll = time.Now()
	s.LastError = ""
	s.Reachable = true
	p.mux.Unlock()
	return nil
}

// RecordTreeMetrics publishes the current size and fork count of the tree.
func (p *Poller) RecordTreeMetrics() {
	metrics.TreeHeaders.Set(float64(p.tree.Len()))
	metrics.TreeForks.Set(float64(len(p.tree.Forks())))
}

func (p *Poller) lookupVersion(ctx context.Context, n node.Node) {
	id := n.Info().ID
	p.mux.RLock()
	tried := p.versions[id]
	p.mux.RUnlock()
	if tried {
		return
	}

	version, err := n.Version(ctx)
	switch {
	case node.IsKind(err, node.KindUnsupported):
	case err != nil:
		// retried on the next poll
		logger.ForNode(id, n.Info().Name).Warn("Could not fetch node version", zap.Error(err))
		return
	}

	p.mux.Lock()
	p.versions[id] = true
	p.status[id].Version = version
	p.mux.Unlock()
}

func (p *Poller) fail(ctx context.Context, n node.Node, err error) error {
	info := n.Info()
	if ctx.Err() != nil {
		return err
	}

	kind := "storage"
	if k := node.KindOf(err); k != 0 {
		kind = k.String()
	}
	metrics.PollErrors.WithLabelValues(info.Name, kind).Inc()
	logger.ForNode(info.ID, info.Name).Error("Poll failed", zap.String("kind", kind), zap.Error(err))

	p.mux.Lock()
	s := p.status[info.ID]
	s.LastPoll = time.Now()
	s.LastError = err.Error()
	s.Reachable = node.KindOf(err) != node.KindTransport && node.KindOf(err) != node.KindDispatch
	p.mux.Unlock()
	return err
}

// Statuses returns a snapshot of every node's status ordered by node id.
func (p *Poller) Statuses() []Status {
	p.mux.RLock()
	defer p.mux.RUnlock()

	out := make([]Status, 0, len(p.status))
	for _, s := range p.status {
		c := *s
		c.Tips = append([]models.ChainTip(nil), s.Tips...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node.ID < out[j].Node.ID })
	return out
}
