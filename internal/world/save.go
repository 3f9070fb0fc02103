package world

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tilerealm/worldcore/internal/chunk"
	"github.com/tilerealm/worldcore/internal/codec"
	"github.com/tilerealm/worldcore/internal/geom"
)

// saveBatch is the number of chunks handed to the Saver per call.
const saveBatch = 64

// Saver persists chunk layers. persist.ChunkRepo implements it.
type Saver interface {
	SaveChunks(ctx context.Context, batch []codec.Chunk) error
}

// Purger deletes a world's stored chunk layers. persist.ChunkRepo
// implements it.
type Purger interface {
	DeleteWorldChunks(ctx context.Context) (int64, error)
}

// SaveResult summarises one Save.
type SaveResult struct {
	Chunks int
	Frames int
}

// Save writes every layer whose version moved since it was last saved.
// Layers are snapshotted one at a time under their own shared lock, so a
// concurrent write lands either in this save or in the next one.
func (w *World) Save(ctx context.Context, s Saver) (SaveResult, error) {
	w.big.RLock()
	defer w.big.RUnlock()

	var res SaveResult
	batch := make([]codec.Chunk, 0, saveBatch)
	var marks []func()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.SaveChunks(ctx, batch); err != nil {
			return err
		}
		for _, mark := range marks {
			mark()
		}
		for _, c := range batch {
			res.Chunks++
			res.Frames += len(c.Frames)
		}
		batch = batch[:0]
		marks = marks[:0]
		return nil
	}

	for _, c := range w.layers.Ready() {
		set, ok := w.layers.Get(c)
		if !ok {
			continue
		}
		rec, mark := dirtyFrames(c, set)
		if len(rec.Frames) == 0 {
			continue
		}
		batch = append(batch, rec)
		marks = append(marks, mark...)
		if len(batch) == saveBatch {
			if err := flush(); err != nil {
				return res, fmt.Errorf("save world %s: %w", w.id, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}
	if err := flush(); err != nil {
		return res, fmt.Errorf("save world %s: %w", w.id, err)
	}
	if res.Chunks > 0 {
		w.log.Debug("world saved", zap.Int("chunks", res.Chunks), zap.Int("frames", res.Frames))
	}
	return res, nil
}

// dirtyFrames snapshots the dirty layers of one coordinate. The returned
// funcs mark each snapshot saved once it is persisted.
func dirtyFrames(c geom.ChunkCoord, set chunk.Set) (codec.Chunk, []func()) {
	rec := codec.Chunk{Coord: c}
	var marks []func()

	if set.Terrain.Dirty() {
		values, ver := set.Terrain.Snapshot(nil)
		rec.Frames = append(rec.Frames, codec.Frame{Kind: chunk.Terrain, Version: ver, Values: values})
		ch := set.Terrain
		marks = append(marks, func() { ch.MarkSaved(ver) })
	}
	for _, k := range chunk.Kinds[1:] {
		ch := set.Byte(k)
		if !ch.Dirty() {
			continue
		}
		raw, ver := ch.Snapshot(nil)
		values := make([]uint16, len(raw))
		for i, v := range raw {
			values[i] = uint16(v)
		}
		rec.Frames = append(rec.Frames, codec.Frame{Kind: k, Version: ver, Values: values})
		marks = append(marks, func() { ch.MarkSaved(ver) })
	}
	return rec, marks
}

// Wipe resets the world and its storage: stored layers are deleted first,
// then every resident chunk is dropped, both under the whole-world lock so no
// save can put rows back in between. Chunks are generated afresh on next
// access.
func (w *World) Wipe(ctx context.Context, p Purger) (dropped int, purged int64, err error) {
	w.big.Lock(w.patience)
	defer w.big.Unlock()

	purged, err = p.DeleteWorldChunks(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("wipe world %s: %w", w.id, err)
	}
	dropped = w.dropAll()
	w.log.Info("world wiped", zap.Int("chunks", dropped), zap.Int64("stored_layers", purged))
	return dropped, purged, nil
}
