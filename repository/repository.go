package repository

import (
	"encoding/json"
	"strconv"

	"forkwatch/db"
	"forkwatch/models"

	"github.com/syndtr/goleveldb/leveldb"
)

var (
	headerPrefix = []byte("header:")
	tipsPrefix   = []byte("tips:")
)

// It abstracts the storage layer from the header tree and the poller
type HeaderRepositoryInterface interface {
	PutHeaders(headers []models.HeaderInfo) error
	GetAllHeaders() ([]models.HeaderInfo, error)
	PutTips(nodeID uint8, tips []models.ChainTip) error
	GetTips(nodeID uint8) ([]models.ChainTip, error)
}

// HeaderRepository implements the HeaderRepositoryInterface using LevelDB as the storage backend
type HeaderRepository struct {
	db *db.LevelDB
}

// NewHeaderRepository creates and returns a new HeaderRepository instance
func NewHeaderRepository(db *db.LevelDB) *HeaderRepository {
	return &HeaderRepository{db: db}
}

func headerKey(h models.HeaderInfo) []byte {
	hash := h.Hash()
	return append(append([]byte{}, headerPrefix...), hash[:]...)
}

func tipsKey(nodeID uint8) []byte {
	return append(append([]byte{}, tipsPrefix...), strconv.Itoa(int(nodeID))...)
}

// PutHeaders stores headers keyed by hash in a single batch
func (r *HeaderRepository) PutHeaders(headers []models.HeaderInfo) error {
	batch := new(leveldb.Batch)
	for _, h := range headers {
		stored, err := models.NewStoredHeader(h)
		if err != nil {
			return err
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		batch.Put(headerKey(h), data)
	}
	return r.db.Write(batch)
}

// GetAllHeaders retrieves every stored header, in key order
func (r *HeaderRepository) GetAllHeaders() ([]models.HeaderInfo, error) {
	iter := r.db.NewIterator(headerPrefix)
	defer iter.Release()

	var headers []models.HeaderInfo
	for iter.Next() {
		var stored models.StoredHeader
		if err := json.Unmarshal(iter.Value(), &stored); err != nil {
			return nil, err
		}
		h, err := stored.HeaderInfo()
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, iter.Error()
}

// Stores the last tips reported by a node, replacing earlier ones
func (r *HeaderRepository) PutTips(nodeID uint8, tips []models.ChainTip) error {
	data, err := json.Marshal(tips)
	if err != nil {
		return err
	}
	return r.db.Put(tipsKey(nodeID), data)
}

// Retrieves the last stored tips of a node; nil if none were stored
func (r *HeaderRepository) GetTips(nodeID uint8) ([]models.ChainTip, error) {
	data, err := r.db.Get(tipsKey(nodeID))
	if err == db.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tips []models.ChainTip
	if err := json.Unmarshal(data, &tips); err != nil {
		return nil, err
	}
	return tips, nil
}
