package bitmap

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Snapshot is the serialized form of a ClaimBitmap. Words are stored as 32 byte big endian values.
type Snapshot struct {
	Bounded bool                   `json:"bounded"`
	Words   map[uint32]common.Hash `json:"words"`
}

// TakeSnapshot captures the current contents of b.
func TakeSnapshot(b ClaimBitmap) *Snapshot {
	if b == nil {
		return nil
	}
	words := b.Words()
	s := &Snapshot{
		Bounded: b.Bounded(),
		Words:   make(map[uint32]common.Hash, len(words)),
	}
	for i, w := range words {
		s.Words[i] = common.Hash(w.Bytes32())
	}
	return s
}

// Restore rebuilds the bitmap a snapshot was taken from.
func (s *Snapshot) Restore() (ClaimBitmap, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot restore nil bitmap snapshot")
	}
	if s.Bounded {
		b := NewBitmap1D()
		for i, w := range s.Words {
			if i != 0 {
				return nil, fmt.Errorf("%w: single word bitmap snapshot has word %d", ErrIndexOutOfRange, i)
			}
			b.word.SetBytes32(w[:])
		}
		return b, nil
	}
	b := NewBitmap2D()
	for i, w := range s.Words {
		b.words[i] = new(uint256.Int).SetBytes32(w[:])
	}
	return b, nil
}

// Marshal serializes a bitmap to JSON.
func Marshal(b ClaimBitmap) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("cannot marshal nil bitmap")
	}
	return json.Marshal(TakeSnapshot(b))
}

// Unmarshal restores a bitmap serialized with Marshal.
func Unmarshal(data []byte) (ClaimBitmap, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bitmap snapshot: %w", err)
	}
	return s.Restore()
}
