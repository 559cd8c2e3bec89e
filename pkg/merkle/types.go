package merkle

// HashFunc maps a leaf to its 32 byte digest. It must be collision resistant across every leaf
// that can share a tree: leaves with equal digests collapse into one tree position.
type HashFunc[L any] func(leaf L) ([32]byte, error)

// MerkleTree is a binary keccak256 tree over a deduplicated, sorted set of leaf digests.
// Pairs are hashed in sorted order, so proofs carry no left/right information. The tree is
// immutable once built.
type MerkleTree[L any] struct {
	// Leaves contains the sorted, deduplicated leaf digests
	Leaves [][32]byte

	// Root is the merkle root hash
	Root [32]byte

	// levels stores all tree levels for proof generation
	// levels[0] = leaves, levels[len-1] = root
	levels [][][32]byte

	hashFn HashFunc[L]

	// index maps a leaf digest to its position in levels[0]
	index map[[32]byte]int
}

// MerkleProof represents a proof that a leaf is included in the tree.
type MerkleProof struct {
	// LeafIndex is the position of the leaf digest in the sorted leaves array
	LeafIndex int

	// Leaf is the hash of the leaf being proven
	Leaf [32]byte

	// Proof contains the sibling hashes from leaf to root. Levels where the node was carried up
	// without a sibling contribute nothing.
	Proof [][32]byte
}
