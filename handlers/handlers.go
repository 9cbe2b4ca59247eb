package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"forkwatch/logger"
	"forkwatch/models"
	"forkwatch/poller"
	"forkwatch/tree"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// StatusSource reports the last known state of every polled node.
type StatusSource interface {
	Statuses() []poller.Status
}

// Handler contains the HTTP handlers for the fork monitoring API
type Handler struct {
	Tree  *tree.Tree
	Nodes StatusSource
}

// NewHandler creates and returns a new Handler instance
func NewHandler(t *tree.Tree, nodes StatusSource) *Handler {
	return &Handler{Tree: t, Nodes: nodes}
}

// ForkView is a fork point with the first header of every branch built on it.
type ForkView struct {
	Header   models.HeaderView   `json:"header"`
	Children []models.HeaderView `json:"children"`
}

// NodeTip is one node's view of a tip.
type NodeTip struct {
	Node      models.NodeInfo `json:"node"`
	Status    string          `json:"status"`
	BranchLen uint64          `json:"branchlen"`
}

// TipGroup collects the nodes reporting the same tip hash.
type TipGroup struct {
	Hash   string    `json:"hash"`
	Height uint64    `json:"height"`
	Nodes  []NodeTip `json:"nodes"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// GetNodes handles GET requests for the status of every polled node
func (h *Handler) GetNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Nodes.Statuses())
}

// GetHeaders handles GET requests for the highest headers in the tree.
// The optional limit query parameter caps how many are returned.
func (h *Handler) GetHeaders(w http.ResponseWriter, r *http.Request) {
	headers := h.Tree.Headers()

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			logger.Logger.Error("Invalid header limit", zap.String("limit", s))
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(headers) {
			headers = headers[len(headers)-limit:]
		}
	}

	views := make([]models.HeaderView, len(headers))
	for i, hdr := range headers {
		// highest first
		views[len(headers)-1-i] = models.NewHeaderView(hdr)
	}
	writeJSON(w, http.StatusOK, views)
}

// GetHeader handles GET requests for a single header by hash
func (h *Handler) GetHeader(w http.ResponseWriter, r *http.Request) {
	s := mux.Vars(r)["hash"]
	hash, err := chainhash.NewHashFromStr(s)
	if err != nil || len(s) != chainhash.MaxHashStringSize {
		writeError(w, http.StatusBadRequest, "invalid block hash")
		return
	}

	hdr, ok := h.Tree.Get(*hash)
	if !ok {
		writeError(w, http.StatusNotFound, "header not found")
		return
	}
	writeJSON(w, http.StatusOK, models.NewHeaderView(hdr))
}

// GetForks handles GET requests for every fork point in the tree
func (h *Handler) GetForks(w http.ResponseWriter, r *http.Request) {
	forks := h.Tree.Forks()
	views := make([]ForkView, len(forks))
	for i, f := range forks {
		views[i] = ForkView{Header: models.NewHeaderView(f.Header)}
		for _, c := range f.Children {
			views[i].Children = append(views[i].Children, models.NewHeaderView(c))
		}
	}
	writeJSON(w, http.StatusOK, views)
}

// GetLeaves handles GET requests for the header at the end of every known
// branch, highest first
func (h *Handler) GetLeaves(w http.ResponseWriter, r *http.Request) {
	leaves := h.Tree.Leaves()
	views := make([]models.HeaderView, len(leaves))
	for i, hdr := range leaves {
		views[len(leaves)-1-i] = models.NewHeaderView(hdr)
	}
	writeJSON(w, http.StatusOK, views)
}

// GetTips handles GET requests for the tips of all nodes, grouped by hash so
// agreeing and disagreeing nodes are visible at a glance
func (h *Handler) GetTips(w http.ResponseWriter, r *http.Request) {
	groups := make(map[chainhash.Hash]*TipGroup)
	for _, s := range h.Nodes.Statuses() {
		for _, tip := range s.Tips {
			g, ok := groups[tip.Hash]
			if !ok {
				g = &TipGroup{Hash: tip.Hash.String(), Height: tip.Height}
				groups[tip.Hash] = g
			}
			g.Nodes = append(g.Nodes, NodeTip{Node: s.Node, Status: tip.Status.String(), BranchLen: tip.BranchLen})
		}
	}

	out := make([]TipGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Height != out[j].Height {
			return out[i].Height > out[j].Height
		}
		return out[i].Hash < out[j].Hash
	})
	writeJSON(w, http.StatusOK, out)
}
