package evidence

import (
	"iter"
	"strings"
)

// Box is a pixel bounding box: x_min, y_min, x_max, y_max.
type Box [4]int

// Block is one recognized text fragment with its recognizer confidence
type Block struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	BBox       *Box    `json:"bbox"`
}

// Index is a read-only view over the blocks recognized for one document.
// Iteration order is reading order.
type Index struct {
	blocks []Block
	norm   []string
}

// NewIndex copies blocks into a new Index.
func NewIndex(blocks []Block) *Index {
	ix := &Index{
		blocks: make([]Block, len(blocks)),
		norm:   make([]string, len(blocks)),
	}
	for i, b := range blocks {
		if b.BBox != nil {
			box := *b.BBox
			b.BBox = &box
		}
		ix.blocks[i] = b
		ix.norm[i] = normalize(b.Text)
	}
	return ix
}

// Len returns the number of blocks.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.blocks)
}

// At returns the i-th block.
func (ix *Index) At(i int) Block {
	return ix.blocks[i]
}

// All iterates blocks in reading order.
func (ix *Index) All() iter.Seq2[int, Block] {
	return func(yield func(int, Block) bool) {
		if ix == nil {
			return
		}
		for i, b := range ix.blocks {
			if !yield(i, b) {
				return
			}
		}
	}
}

// Head returns up to n blocks from the start of the index.
func (ix *Index) Head(n int) []Block {
	if ix == nil || n <= 0 {
		return nil
	}
	if n > len(ix.blocks) {
		n = len(ix.blocks)
	}
	out := make([]Block, n)
	copy(out, ix.blocks[:n])
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
