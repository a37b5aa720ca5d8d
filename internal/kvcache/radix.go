// Package kvcache simulates KV-cache aware routing over a pool of workers.
// Each worker owns a radix index of token-block prefixes it has processed;
// the router picks the worker with the cheapest estimated cost for a request.
package kvcache

import (
	"encoding/binary"
	"hash/fnv"
	"strings"
)

// BlockKeys splits a prompt's token sequence into fixed-size blocks and
// returns one chained hash per block. Chaining the previous block hash into
// the next makes a block hash identify its entire prefix, so prefix matching
// reduces to walking equal hashes.
func BlockKeys(text string, blockSize int) []uint64 {
	words := strings.Fields(text)
	if blockSize <= 0 || len(words) < blockSize {
		return nil
	}

	numBlocks := len(words) / blockSize // partial trailing blocks never count
	keys := make([]uint64, 0, numBlocks)
	var prev uint64
	for b := 0; b < numBlocks; b++ {
		h := fnv.New64a()
		var chain [8]byte
		binary.BigEndian.PutUint64(chain[:], prev)
		_, _ = h.Write(chain[:])
		for _, w := range words[b*blockSize : (b+1)*blockSize] {
			_, _ = h.Write([]byte(w))
			_, _ = h.Write([]byte{0})
		}
		prev = h.Sum64()
		keys = append(keys, prev)
	}
	return keys
}

// radixIndex stores block-hash sequences as a tree. Nodes live in an arena
// slice and reference children by index, keeping the structure compact and
// mutable in place under the owning worker's lock.
type radixIndex struct {
	nodes []radixNode
	root  map[uint64]int32
}

type radixNode struct {
	block    uint64
	refs     int // completed requests whose prefix runs through this node
	children map[uint64]int32
}

func newRadixIndex() *radixIndex {
	return &radixIndex{
		nodes: make([]radixNode, 0, 64),
		root:  make(map[uint64]int32),
	}
}

// Insert adds a block sequence to the index, creating nodes as needed and
// bumping the reference count along the path.
func (ix *radixIndex) Insert(blocks []uint64) {
	children := ix.root
	for _, b := range blocks {
		idx, ok := children[b]
		if !ok {
			ix.nodes = append(ix.nodes, radixNode{
				block:    b,
				children: make(map[uint64]int32),
			})
			idx = int32(len(ix.nodes) - 1)
			children[b] = idx
		}
		ix.nodes[idx].refs++
		children = ix.nodes[idx].children
	}
}

// MatchedBlocks walks the tree along the candidate sequence and returns how
// many leading blocks are present.
func (ix *radixIndex) MatchedBlocks(blocks []uint64) int {
	children := ix.root
	matched := 0
	for _, b := range blocks {
		idx, ok := children[b]
		if !ok {
			break
		}
		matched++
		children = ix.nodes[idx].children
	}
	return matched
}

// Size returns the number of distinct blocks stored.
func (ix *radixIndex) Size() int {
	return len(ix.nodes)
}
