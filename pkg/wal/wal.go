package wal

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

// Config WAL 設定
type Config struct {
	Dir              string `yaml:"dir"`
	Prefix           string `yaml:"prefix"`
	SegmentThreshold int    `yaml:"segment_threshold"` // 每個 segment 的筆數
	MaxSegments      int    `yaml:"max_segments"`      // 保留的 segment 數量，超過會刪除最舊的
	SyncDisk         bool   `yaml:"sync_disk"`         // 每次寫入都 fsync
}

func (c *Config) withDefaults() gowal.Config {
	cfg := gowal.Config{
		Dir:              c.Dir,
		Prefix:           c.Prefix,
		SegmentThreshold: c.SegmentThreshold,
		MaxSegments:      c.MaxSegments,
		IsInSyncDiskMode: c.SyncDisk,
	}
	if cfg.Dir == "" {
		cfg.Dir = "./wal"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "journal_"
	}
	if cfg.SegmentThreshold == 0 {
		cfg.SegmentThreshold = 1000
	}
	if cfg.MaxSegments == 0 {
		cfg.MaxSegments = 100000
	}
	return cfg
}

// WAL 以 JSON 記錄寫入 gowal segment
type WAL struct {
	wal *gowal.Wal
	key string
	mu  sync.Mutex
}

// NewWAL 開啟或建立一個 WAL 目錄
//
// 參數:
//
//	cfg: WAL 設定
//	key: 每筆紀錄的 key，ReadAll 只會回傳相同 key 的紀錄
func NewWAL(cfg Config, key string) (*WAL, error) {
	w, err := gowal.NewWAL(cfg.withDefaults())
	if err != nil {
		return nil, errors.Wrap(err, "init wal")
	}
	return &WAL{wal: w, key: key}, nil
}

// Write 寫入一筆資料
func (w *WAL) Write(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal wal record")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wal.Write(w.wal.CurrentIndex()+1, w.key, payload)
}

// Close 關閉檔案
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wal.Close()
}

// ReadAll 依寫入順序讀取所有資料
// callback 接收原始 JSON，由呼叫端決定解碼的型別
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.wal.CurrentIndex() == 0 {
		return nil
	}
	for m := range w.wal.Iterator() {
		if m.Key != w.key {
			continue
		}
		if err := callback(m.Value); err != nil {
			return err
		}
	}
	return nil
}
