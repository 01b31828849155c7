package detector

import (
	"sync"

	"github.com/kolkov/racedetector/internal/race/shadowcell"
)

// blockSize is the width of one shadow-memory unit: every access is
// decomposed so it never straddles an 8-byte-aligned application block
// (component design 4.6).
const blockSize = 8

// shadowMemory maps an 8-byte-aligned application address to the
// shadowcell.Block shadowing it. Grounded on the teacher's shadow_map.go:
// a sync.Map is the right structure here for the same reason the teacher
// picked it for VarState -- reads (repeated access to already-shadowed
// blocks) vastly outnumber writes (first touch of a new block), which is
// exactly sync.Map's optimized case.
type shadowMemory struct {
	blocks sync.Map // uintptr(blockAddr) -> *shadowcell.Block
}

func newShadowMemory() *shadowMemory {
	return &shadowMemory{}
}

func (s *shadowMemory) blockFor(addr uintptr) *shadowcell.Block {
	key := addr &^ (blockSize - 1)
	if v, ok := s.blocks.Load(key); ok {
		return v.(*shadowcell.Block)
	}
	blk := &shadowcell.Block{}
	v, _ := s.blocks.LoadOrStore(key, blk)
	return v.(*shadowcell.Block)
}
