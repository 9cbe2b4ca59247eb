package models

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ChainTipStatus is the validation state a node reports for a chain tip.
type ChainTipStatus int

const (
	StatusUnknown ChainTipStatus = iota
	StatusActive
	StatusValidFork
	StatusValidHeaders
	StatusHeadersOnly
	StatusInvalid
)

var statusNames = map[ChainTipStatus]string{
	StatusUnknown:      "unknown",
	StatusActive:       "active",
	StatusValidFork:    "valid-fork",
	StatusValidHeaders: "valid-headers",
	StatusHeadersOnly:  "headers-only",
	StatusInvalid:      "invalid",
}

// ParseChainTipStatus maps the status string of getchaintips. Unrecognised
// values become StatusUnknown.
func ParseChainTipStatus(s string) ChainTipStatus {
	for status, name := range statusNames {
		if name == s {
			return status
		}
	}
	return StatusUnknown
}

func (s ChainTipStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return statusNames[StatusUnknown]
}

func (s ChainTipStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ChainTipStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*s = ParseChainTipStatus(name)
	return nil
}

// ChainTip is the terminal header of a branch as reported by a node.
type ChainTip struct {
	Height    uint64
	Hash      chainhash.Hash
	BranchLen uint64 // blocks since the tip diverged from the node's active chain
	Status    ChainTipStatus
}

// ForkRootHeight is the height at which the tip's branch split off.
func (t ChainTip) ForkRootHeight() uint64 {
	if t.BranchLen > t.Height {
		return 0
	}
	return t.Height - t.BranchLen
}

func (t ChainTip) MarshalJSON() ([]byte, error) {
	return json.Marshal(RawChainTip{
		Height:    t.Height,
		Hash:      t.Hash.String(),
		BranchLen: t.BranchLen,
		Status:    t.Status.String(),
	})
}

func (t *ChainTip) UnmarshalJSON(data []byte) error {
	var raw RawChainTip
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tip, err := raw.ToChainTip()
	if err != nil {
		return err
	}
	*t = tip
	return nil
}

// RawChainTip is one entry of a getchaintips response. Bitcoin Core and btcd
// share this shape.
type RawChainTip struct {
	Height    uint64 `json:"height"`
	Hash      string `json:"hash"`
	BranchLen uint64 `json:"branchlen"`
	Status    string `json:"status"`
}

func (r RawChainTip) ToChainTip() (ChainTip, error) {
	hash, err := chainhash.NewHashFromStr(r.Hash)
	if err != nil {
		return ChainTip{}, fmt.Errorf("invalid chain tip hash %q: %w", r.Hash, err)
	}
	return ChainTip{
		Height:    r.Height,
		Hash:      *hash,
		BranchLen: r.BranchLen,
		Status:    ParseChainTipStatus(r.Status),
	}, nil
}

// ToChainTips converts a whole getchaintips result, failing on the first bad entry.
func ToChainTips(raw []RawChainTip) ([]ChainTip, error) {
	tips := make([]ChainTip, 0, len(raw))
	for _, r := range raw {
		tip, err := r.ToChainTip()
		if err != nil {
			return nil, err
		}
		tips = append(tips, tip)
	}
	return tips, nil
}
