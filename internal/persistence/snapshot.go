package persistence

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"

	"github.com/talgya/mini-realm/internal/realm"
)

// ErrChainBroken is returned when a stored snapshot does not match its hash.
var ErrChainBroken = errors.New("snapshot chain broken")

// Snapshot is the metadata of one chained settlement snapshot.
type Snapshot struct {
	Seq         int64     `json:"seq"`
	TakenAt     time.Time `json:"taken_at"`
	Settlements int       `json:"settlements"`
	RawSize     int       `json:"raw_size"`
	Size        int       `json:"size"`
	PrevHash    string    `json:"prev_hash"`
	Hash        string    `json:"hash"`
}

type snapshotRow struct {
	Seq         int64  `db:"seq"`
	TakenAt     int64  `db:"taken_at"`
	Settlements int    `db:"settlements"`
	RawSize     int    `db:"raw_size"`
	Blob        []byte `db:"blob"`
	PrevHash    string `db:"prev_hash"`
	Hash        string `db:"hash"`
}

func (r snapshotRow) snapshot() Snapshot {
	return Snapshot{
		Seq:         r.Seq,
		TakenAt:     fromNanos(r.TakenAt),
		Settlements: r.Settlements,
		RawSize:     r.RawSize,
		Size:        len(r.Blob),
		PrevHash:    r.PrevHash,
		Hash:        r.Hash,
	}
}

// TakeSnapshot compresses the state of every settlement and appends it to
// the chain, hashed together with the previous snapshot's hash.
func (db *DB) TakeSnapshot(now time.Time) (Snapshot, error) {
	settlements, err := db.Settlements()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load settlements: %w", err)
	}
	raw, err := json.Marshal(settlements)
	if err != nil {
		return Snapshot{}, err
	}
	blob, err := compressLZ4(raw)
	if err != nil {
		return Snapshot{}, fmt.Errorf("compress: %w", err)
	}

	var snap Snapshot
	err = retryOp(defaultRetryConfig, func() error {
		tx, err := db.conn.Beginx()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var prev string
		if err := tx.Get(&prev, "SELECT COALESCE((SELECT hash FROM snapshots ORDER BY seq DESC LIMIT 1), '')"); err != nil {
			return err
		}
		hash, err := chainHash(blob, prev)
		if err != nil {
			return err
		}
		res, err := tx.Exec(`INSERT INTO snapshots (taken_at, settlements, raw_size, blob, prev_hash, hash)
			VALUES (?, ?, ?, ?, ?, ?)`,
			toNanos(now), len(settlements), len(raw), blob, prev, hash)
		if err != nil {
			return err
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return err
		}
		snap = Snapshot{
			Seq:         seq,
			TakenAt:     now.UTC(),
			Settlements: len(settlements),
			RawSize:     len(raw),
			Size:        len(blob),
			PrevHash:    prev,
			Hash:        hash,
		}
		return tx.Commit()
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("store snapshot: %w", err)
	}

	slog.Info("snapshot taken", "seq", snap.Seq, "settlements", snap.Settlements, "raw", snap.RawSize, "compressed", snap.Size)
	return snap, nil
}

// Snapshots lists the chain in order.
func (db *DB) Snapshots() ([]Snapshot, error) {
	var rows []snapshotRow
	if err := db.conn.Select(&rows, "SELECT seq, taken_at, settlements, raw_size, blob, prev_hash, hash FROM snapshots ORDER BY seq"); err != nil {
		return nil, err
	}
	out := make([]Snapshot, len(rows))
	for i, r := range rows {
		out[i] = r.snapshot()
	}
	return out, nil
}

// VerifySnapshots recomputes the whole chain and returns how many
// snapshots it checked. The first mismatch yields ErrChainBroken.
func (db *DB) VerifySnapshots() (int, error) {
	var rows []snapshotRow
	if err := db.conn.Select(&rows, "SELECT seq, taken_at, settlements, raw_size, blob, prev_hash, hash FROM snapshots ORDER BY seq"); err != nil {
		return 0, err
	}

	prev := ""
	for i, r := range rows {
		if r.PrevHash != prev {
			return i, fmt.Errorf("%w: snapshot %d does not link to its predecessor", ErrChainBroken, r.Seq)
		}
		hash, err := chainHash(r.Blob, prev)
		if err != nil {
			return i, err
		}
		if hash != r.Hash {
			return i, fmt.Errorf("%w: snapshot %d hash mismatch", ErrChainBroken, r.Seq)
		}
		prev = r.Hash
	}
	return len(rows), nil
}

// LoadSnapshot decompresses the settlement state stored at seq.
func (db *DB) LoadSnapshot(seq int64) ([]realm.Settlement, error) {
	var blob []byte
	if err := db.conn.Get(&blob, "SELECT blob FROM snapshots WHERE seq = ?", seq); err != nil {
		return nil, notFound(err)
	}
	raw, err := decompressLZ4(blob)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot %d: %w", seq, err)
	}
	var settlements []realm.Settlement
	if err := json.Unmarshal(raw, &settlements); err != nil {
		return nil, fmt.Errorf("decode snapshot %d: %w", seq, err)
	}
	return settlements, nil
}

func chainHash(blob []byte, prevHex string) (string, error) {
	prev, err := hex.DecodeString(prevHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad previous hash: %v", ErrChainBroken, err)
	}
	h := blake3.New(32, nil)
	h.Write(blob)
	h.Write(prev)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func compressLZ4(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLZ4(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, lz4.NewReader(bytes.NewReader(src))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
