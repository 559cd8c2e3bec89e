package merkle

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrEmptyTree    = errors.New("cannot build merkle tree from empty leaf set")
	ErrLeafNotFound = errors.New("leaf not found in merkle tree")
)

// BuildMerkleTree hashes every leaf with hashFn and builds a tree over the resulting digests.
//
// Digests are sorted ascending as raw bytes and consecutive duplicates removed before the tree is
// built, so the root depends only on the set of digests and not on input order. Each level pairs
// adjacent nodes left to right with keccak256(sorted(a, b)); an unpaired last node is carried to
// the next level unchanged.
func BuildMerkleTree[L any](leaves []L, hashFn HashFunc[L]) (*MerkleTree[L], error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	if hashFn == nil {
		return nil, fmt.Errorf("merkle tree requires a leaf hash function")
	}

	digests := make([][32]byte, len(leaves))
	for i, leaf := range leaves {
		digest, err := hashFn(leaf)
		if err != nil {
			return nil, fmt.Errorf("failed to hash leaf %d: %w", i, err)
		}
		digests[i] = digest
	}

	tree, err := buildFromDigests[L](digests)
	if err != nil {
		return nil, err
	}
	tree.hashFn = hashFn
	return tree, nil
}

// BuildMerkleTreeFromHashes builds a tree directly over precomputed leaf digests.
func BuildMerkleTreeFromHashes(digests [][32]byte) (*MerkleTree[[32]byte], error) {
	tree, err := buildFromDigests[[32]byte](digests)
	if err != nil {
		return nil, err
	}
	tree.hashFn = func(d [32]byte) ([32]byte, error) { return d, nil }
	return tree, nil
}

func buildFromDigests[L any](digests [][32]byte) (*MerkleTree[L], error) {
	if len(digests) == 0 {
		return nil, ErrEmptyTree
	}

	leaves := SortAndDedup(digests)

	levels := make([][][32]byte, 0)
	levels = append(levels, leaves)

	currentLevel := leaves
	for len(currentLevel) > 1 {
		nextLevel := make([][32]byte, 0, (len(currentLevel)+1)/2)

		for i := 0; i < len(currentLevel); i += 2 {
			if i+1 == len(currentLevel) {
				// Odd node out is promoted as is
				nextLevel = append(nextLevel, currentLevel[i])
				continue
			}
			nextLevel = append(nextLevel, HashPair(currentLevel[i], currentLevel[i+1]))
		}

		levels = append(levels, nextLevel)
		currentLevel = nextLevel
	}

	index := make(map[[32]byte]int, len(leaves))
	for i, leaf := range leaves {
		index[leaf] = i
	}

	return &MerkleTree[L]{
		Leaves: leaves,
		Root:   currentLevel[0],
		levels: levels,
		index:  index,
	}, nil
}

// SortAndDedup returns a sorted copy of digests with consecutive duplicates removed.
func SortAndDedup(digests [][32]byte) [][32]byte {
	sorted := make([][32]byte, len(digests))
	copy(sorted, digests)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	deduped := sorted[:0]
	for i, d := range sorted {
		if i > 0 && d == sorted[i-1] {
			continue
		}
		deduped = append(deduped, d)
	}
	return deduped
}

// Depth returns the number of levels above the leaves.
func (mt *MerkleTree[L]) Depth() int {
	return len(mt.levels) - 1
}

// RootHash returns the root as a common.Hash.
func (mt *MerkleTree[L]) RootHash() common.Hash {
	return common.Hash(mt.Root)
}

// Contains reports whether the leaf's digest is part of the tree.
func (mt *MerkleTree[L]) Contains(leaf L) bool {
	digest, err := mt.hashFn(leaf)
	if err != nil {
		return false
	}
	_, ok := mt.index[digest]
	return ok
}

// GenerateProof hashes leaf and returns the proof for its digest. A leaf whose digest is not in
// the tree yields ErrLeafNotFound.
func (mt *MerkleTree[L]) GenerateProof(leaf L) (*MerkleProof, error) {
	digest, err := mt.hashFn(leaf)
	if err != nil {
		return nil, fmt.Errorf("failed to hash leaf: %w", err)
	}
	return mt.GenerateProofForHash(digest)
}

// GenerateProofForHash returns the proof for a leaf digest.
func (mt *MerkleTree[L]) GenerateProofForHash(digest [32]byte) (*MerkleProof, error) {
	leafIndex, ok := mt.index[digest]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLeafNotFound, common.Hash(digest).Hex())
	}
	return mt.GenerateProofAt(leafIndex)
}

// GenerateProofAt returns the proof for the leaf at the given position in the sorted leaves.
func (mt *MerkleTree[L]) GenerateProofAt(leafIndex int) (*MerkleProof, error) {
	if leafIndex < 0 || leafIndex >= len(mt.Leaves) {
		return nil, fmt.Errorf("leaf index %d out of bounds (tree has %d leaves)", leafIndex, len(mt.Leaves))
	}

	proof := make([][32]byte, 0, mt.Depth())
	index := leafIndex

	// Traverse from leaf to root, collecting sibling hashes
	for level := 0; level < len(mt.levels)-1; level++ {
		currentLevel := mt.levels[level]

		var siblingIndex int
		if index%2 == 0 {
			siblingIndex = index + 1
		} else {
			siblingIndex = index - 1
		}

		// A node without a sibling was carried up unchanged
		if siblingIndex < len(currentLevel) {
			proof = append(proof, currentLevel[siblingIndex])
		}

		index = index / 2
	}

	return &MerkleProof{
		LeafIndex: leafIndex,
		Leaf:      mt.Leaves[leafIndex],
		Proof:     proof,
	}, nil
}

// VerifyProof verifies that a leaf is included in the merkle tree with the given root.
func VerifyProof(proof *MerkleProof, root [32]byte) bool {
	if proof == nil {
		return false
	}
	return ProcessProof(proof.Leaf, proof.Proof) == root
}

// VerifyLeaf hashes leaf with hashFn and folds proof into it, returning true iff the result is
// root. It needs nothing from the tree that produced the proof.
func VerifyLeaf[L any](root [32]byte, leaf L, proof [][32]byte, hashFn HashFunc[L]) bool {
	if hashFn == nil {
		return false
	}
	digest, err := hashFn(leaf)
	if err != nil {
		return false
	}
	return ProcessProof(digest, proof) == root
}

// ProcessProof folds proof into digest with sorted pair hashing and returns the resulting root.
func ProcessProof(digest [32]byte, proof [][32]byte) [32]byte {
	computed := digest
	for _, sibling := range proof {
		computed = HashPair(computed, sibling)
	}
	return computed
}

// HashPair computes keccak256 of the two hashes concatenated in ascending byte order.
func HashPair(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	data := make([]byte, 64)
	copy(data[0:32], a[:])
	copy(data[32:64], b[:])

	return crypto.Keccak256Hash(data)
}

// ToHashes converts a proof to common.Hash values for JSON transport.
func ToHashes(proof [][32]byte) []common.Hash {
	out := make([]common.Hash, len(proof))
	for i, p := range proof {
		out[i] = common.Hash(p)
	}
	return out
}

// FromHashes is the inverse of ToHashes.
func FromHashes(proof []common.Hash) [][32]byte {
	out := make([][32]byte, len(proof))
	for i, p := range proof {
		out[i] = p
	}
	return out
}
