package tree

import (
	"bytes"
	"sort"
	"sync"

	"forkwatch/logger"
	"forkwatch/models"
	"forkwatch/repository"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"
)

type entry struct {
	info     models.HeaderInfo
	hash     chainhash.Hash
	parent   *entry
	children []*entry
}

// Fork is a header with more than one known child.
type Fork struct {
	Header   models.HeaderInfo
	Children []models.HeaderInfo
}

// Tree holds every header observed across all nodes, keyed by hash, with
// parent->child edges following PrevBlock. It only ever grows.
//
// Each method locks for the duration of one in-memory operation. Callers must
// not expect two calls to be atomic: a Contains followed by a fetch and an
// Insert can race with another poller, which at worst inserts a duplicate
// that Insert ignores.
type Tree struct {
	mux     sync.Mutex
	index   map[chainhash.Hash]*entry
	orphans map[chainhash.Hash][]*entry // waiting for the parent keyed here
}

func New() *Tree {
	return &Tree{
		index:   make(map[chainhash.Hash]*entry),
		orphans: make(map[chainhash.Hash][]*entry),
	}
}

// Load inserts every header stored in the repository and returns how many were added.
func (t *Tree) Load(repo repository.HeaderRepositoryInterface) (int, error) {
	headers, err := repo.GetAllHeaders()
	if err != nil {
		return 0, err
	}
	added := t.Insert(headers...)
	logger.Logger.Info("Loaded header tree", zap.Int("stored", len(headers)), zap.Int("added", len(added)))
	return len(added), nil
}

// Contains reports whether a header with this hash is in the tree
func (t *Tree) Contains(hash chainhash.Hash) bool {
	t.mux.Lock()
	defer t.mux.Unlock()

	_, ok := t.index[hash]
	return ok
}

func (t *Tree) Len() int {
	t.mux.Lock()
	defer t.mux.Unlock()

	return len(t.index)
}

func (t *Tree) IsEmpty() bool {
	return t.Len() == 0
}

// MaxLeafHeight returns the height of the highest header without children.
// Ties between leaves are irrelevant as only the height is returned.
func (t *Tree) MaxLeafHeight() (uint64, bool) {
	t.mux.Lock()
	defer t.mux.Unlock()

	var (
		max   uint64
		found bool
	)
	for _, e := range t.index {
		if len(e.children) > 0 {
			continue
		}
		if !found || e.info.Height > max {
			max = e.info.Height
			found = true
		}
	}
	return max, found
}

// Insert adds headers not yet in the tree and returns those that were new.
// Headers may arrive in any order; a child inserted before its parent is
// linked once the parent arrives.
func (t *Tree) Insert(headers ...models.HeaderInfo) []models.HeaderInfo {
	t.mux.Lock()
	defer t.mux.Unlock()

	var added []models.HeaderInfo
	for _, h := range headers {
		hash := h.Hash()
		if _, ok := t.index[hash]; ok {
			continue
		}

		e := &entry{info: h, hash: hash}
		t.index[hash] = e

		prev := h.Header.PrevBlock
		if parent, ok := t.index[prev]; ok {
			e.parent = parent
			parent.children = append(parent.children, e)
		} else {
			t.orphans[prev] = append(t.orphans[prev], e)
		}

		for _, child := range t.orphans[hash] {
			child.parent = e
			e.children = append(e.children, child)
		}
		delete(t.orphans, hash)

		added = append(added, h)
	}
	return added
}

// Get returns the header with the given hash
func (t *Tree) Get(hash chainhash.Hash) (models.HeaderInfo, bool) {
	t.mux.Lock()
	defer t.mux.Unlock()

	e, ok := t.index[hash]
	if !ok {
		return models.HeaderInfo{}, false
	}
	return e.info, true
}

// Headers returns a snapshot of all headers ordered by height, then hash.
func (t *Tree) Headers() []models.HeaderInfo {
	t.mux.Lock()
	entries := make([]*entry, 0, len(t.index))
	for _, e := range t.index {
		entries = append(entries, e)
	}
	t.mux.Unlock()

	sortEntries(entries)
	headers := make([]models.HeaderInfo, len(entries))
	for i, e := range entries {
		headers[i] = e.info
	}
	return headers
}

// Leaves returns all headers without children, ordered by height.
func (t *Tree) Leaves() []models.HeaderInfo {
	t.mux.Lock()
	var leaves []*entry
	for _, e := range t.index {
		if len(e.children) == 0 {
			leaves = append(leaves, e)
		}
	}
	t.mux.Unlock()

	sortEntries(leaves)
	headers := make([]models.HeaderInfo, len(leaves))
	for i, e := range leaves {
		headers[i] = e.info
	}
	return headers
}

// Forks returns every header that more than one known header builds on,
// ordered by height.
func (t *Tree) Forks() []Fork {
	t.mux.Lock()
	defer t.mux.Unlock()

	var points []*entry
	for _, e := range t.index {
		if len(e.children) > 1 {
			points = append(points, e)
		}
	}
	sortEntries(points)

	forks := make([]Fork, 0, len(points))
	for _, p := range points {
		children := append([]*entry(nil), p.children...)
		sortEntries(children)
		fork := Fork{Header: p.info, Children: make([]models.HeaderInfo, len(children))}
		for i, c := range children {
			fork.Children[i] = c.info
		}
		forks = append(forks, fork)
	}
	return forks
}

func sortEntries(entries []*entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].info.Height != entries[j].info.Height {
			return entries[i].info.Height < entries[j].info.Height
		}
		return bytes.Compare(entries[i].hash[:], entries[j].hash[:]) < 0
	})
}
