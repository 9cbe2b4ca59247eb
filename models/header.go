package models

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// HeaderInfo pairs a raw block header with the height the reporting node assigned it.
type HeaderInfo struct {
	Height uint64
	Header wire.BlockHeader
}

func (h HeaderInfo) Hash() chainhash.Hash {
	return h.Header.BlockHash()
}

// StoredHeader is the persisted form of a HeaderInfo.
type StoredHeader struct {
	Height uint64 `json:"height"`
	Header string `json:"header"` // hex of the 80-byte serialization
}

func NewStoredHeader(h HeaderInfo) (*StoredHeader, error) {
	var buf bytes.Buffer
	buf.Grow(wire.MaxBlockHeaderPayload)
	if err := h.Header.Serialize(&buf); err != nil {
		return nil, err
	}
	return &StoredHeader{Height: h.Height, Header: hex.EncodeToString(buf.Bytes())}, nil
}

func (s *StoredHeader) HeaderInfo() (HeaderInfo, error) {
	raw, err := hex.DecodeString(s.Header)
	if err != nil {
		return HeaderInfo{}, err
	}
	if len(raw) != wire.MaxBlockHeaderPayload {
		return HeaderInfo{}, fmt.Errorf("stored header has %d bytes, want %d", len(raw), wire.MaxBlockHeaderPayload)
	}
	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
		return HeaderInfo{}, err
	}
	return HeaderInfo{Height: s.Height, Header: header}, nil
}

// HeaderView is the API representation of a header.
type HeaderView struct {
	Hash       string `json:"hash"`
	PrevBlock  string `json:"prev_block"`
	Height     uint64 `json:"height"`
	Version    int32  `json:"version"`
	MerkleRoot string `json:"merkle_root"`
	Time       int64  `json:"time"`
	Bits       uint32 `json:"bits"`
	Nonce      uint32 `json:"nonce"`
}

func NewHeaderView(h HeaderInfo) HeaderView {
	return HeaderView{
		Hash:       h.Hash().String(),
		PrevBlock:  h.Header.PrevBlock.String(),
		Height:     h.Height,
		Version:    h.Header.Version,
		MerkleRoot: h.Header.MerkleRoot.String(),
		Time:       h.Header.Timestamp.Unix(),
		Bits:       h.Header.Bits,
		Nonce:      h.Header.Nonce,
	}
}
