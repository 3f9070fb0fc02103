package gen

import "github.com/tilerealm/worldcore/internal/geom"

// Hash32 mixes 32-bit input into a well-distributed 32-bit output
// (murmur3-style finaliser). Stable across versions: never change it once
// worlds are persisted.
func Hash32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}

// Hash2 returns a stable hash for 2D integer coordinates and a seed.
func Hash2(seed uint32, x, y int32) uint32 {
	h := seed
	h ^= uint32(x) * 0x9e3779b1
	h ^= uint32(y) * 0x85ebca6b
	return Hash32(h)
}

// ChunkSeed derives the RNG seed for generating one chunk, independent of
// which worker generates it.
func ChunkSeed(seed int64, c geom.ChunkCoord) int64 {
	hi := Hash2(uint32(seed>>32), c.X, c.Y)
	lo := Hash2(uint32(seed), c.Y, c.X)
	return int64(uint64(hi)<<32 | uint64(lo))
}
