package persist

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/tilerealm/worldcore/internal/chunk"
	"github.com/tilerealm/worldcore/internal/codec"
	"github.com/tilerealm/worldcore/internal/geom"
)

// ChunkRepo stores encoded chunk layers of one world. It is the world's
// gen.Loader and world.Saver.
type ChunkRepo struct {
	db    *DB
	world uuid.UUID
	codec *codec.Codec
}

func NewChunkRepo(db *DB, world uuid.UUID, c *codec.Codec) *ChunkRepo {
	return &ChunkRepo{db: db, world: world, codec: c}
}

// LoadChunk returns every stored layer of c, or nil if none was saved.
func (r *ChunkRepo) LoadChunk(ctx context.Context, c geom.ChunkCoord) ([]codec.Frame, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT layer, digest, data FROM chunk_layers
		 WHERE world_id = $1 AND cx = $2 AND cy = $3
		 ORDER BY layer`, r.world, c.X, c.Y,
	)
	if err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", c, err)
	}
	defer rows.Close()

	var frames []codec.Frame
	for rows.Next() {
		var (
			layer  int16
			digest []byte
			data   []byte
		)
		if err := rows.Scan(&layer, &digest, &data); err != nil {
			return nil, fmt.Errorf("load chunk %s: %w", c, err)
		}
		f, err := r.decode(chunk.Kind(layer), digest, data)
		if err != nil {
			return nil, fmt.Errorf("load chunk %s: %w", c, err)
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", c, err)
	}
	return frames, nil
}

// decode checks a stored row against its digest and decodes it.
func (r *ChunkRepo) decode(k chunk.Kind, digest, data []byte) (codec.Frame, error) {
	sum := blake2b.Sum256(data)
	if !bytes.Equal(sum[:], digest) {
		return codec.Frame{}, fmt.Errorf("%s layer digest mismatch: %w", k, codec.ErrCorrupt)
	}
	f, err := r.codec.Decode(data)
	if err != nil {
		return codec.Frame{}, err
	}
	if f.Kind != k {
		return codec.Frame{}, fmt.Errorf("%s row holds %s frame: %w", k, f.Kind, codec.ErrCorrupt)
	}
	return f, nil
}

// SaveChunks upserts a batch of chunks in a single transaction. Rows whose
// digest did not change are left untouched. Either the whole batch is
// stored or none of it.
func (r *ChunkRepo) SaveChunks(ctx context.Context, batch []codec.Chunk) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save chunks begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range batch {
		for _, f := range c.Frames {
			data, err := r.codec.Encode(f)
			if err != nil {
				return fmt.Errorf("save chunk %s: %w", c.Coord, err)
			}
			sum := blake2b.Sum256(data)
			if _, err := tx.Exec(ctx,
				`INSERT INTO chunk_layers (world_id, layer, cx, cy, version, digest, data)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 ON CONFLICT (world_id, cx, cy, layer) DO UPDATE
				 SET version = EXCLUDED.version, digest = EXCLUDED.digest,
				     data = EXCLUDED.data, updated_at = NOW()
				 WHERE chunk_layers.digest <> EXCLUDED.digest`,
				r.world, int16(f.Kind), c.Coord.X, c.Coord.Y, int64(f.Version), sum[:], data,
			); err != nil {
				return fmt.Errorf("save chunk %s %s: %w", c.Coord, f.Kind, err)
			}
		}
	}

	return tx.Commit(ctx)
}

// DeleteWorldChunks removes every stored layer of the world. World.Wipe
// calls it.
func (r *ChunkRepo) DeleteWorldChunks(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM chunk_layers WHERE world_id = $1`, r.world)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
