package utils

import (
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// RLPHeader stores a header as the RLP of a body-less block, so every
// optional field survives the round trip.
type RLPHeader types.Header

func (h *RLPHeader) EncodeRLP(w io.Writer) error {
	return types.NewBlockWithHeader((*types.Header)(h)).EncodeRLP(w)
}

func (h *RLPHeader) DecodeRLP(s *rlp.Stream) error {
	block := new(types.Block)
	err := block.DecodeRLP(s)
	if err != nil {
		return err
	}

	header := block.Header()
	*h = (RLPHeader)(*header)
	return nil
}

func (h *RLPHeader) Header() *types.Header {
	return (*types.Header)(h)
}

func (h *RLPHeader) Hash() common.Hash {
	return h.Header().Hash()
}

type Bytes []byte

func (b Bytes) Bytes() []byte {
	return b[:]
}

func (b *Bytes) SetBytes(bytes []byte) {
	*b = bytes
}

// Hashes is a list of hashes stored as their concatenation.
type Hashes []common.Hash

func (h Hashes) Bytes() []byte {
	out := make([]byte, 0, len(h)*common.HashLength)
	for _, hash := range h {
		out = append(out, hash.Bytes()...)
	}
	return out
}

// SetBytes splits b into hashes. A trailing partial hash is dropped.
func (h *Hashes) SetBytes(b []byte) {
	hashes := make(Hashes, 0, len(b)/common.HashLength)
	for len(b) >= common.HashLength {
		hashes = append(hashes, common.BytesToHash(b[:common.HashLength]))
		b = b[common.HashLength:]
	}
	*h = hashes
}
