// Package chunk splits note content into bounded ordered pieces and reassembles them.
//
// Pieces are cut on byte boundaries so that concatenation restores the input
// exactly; a multi-byte character may straddle two chunks.
package chunk

import (
	"encoding/hex"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/xxxsen/notevault/internal/model"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
)

// DefaultBound is the maximum number of bytes stored in one chunk record.
const DefaultBound = 256 * 1024

// digestKey separates chunk digests from any other BLAKE3 use.
var digestKey = [32]byte{
	'n', 'o', 't', 'e', 'v', 'a', 'u', 'l', 't', '.', 'c', 'h', 'u', 'n', 'k',
}

type Piece struct {
	Ordinal int
	Text    string
	Digest  string
}

func Count(length, bound int) int {
	if length <= 0 {
		return 0
	}
	return (length + bound - 1) / bound
}

// Split cuts text into Count(len(text), bound) pieces of at most bound bytes.
func Split(text string, bound int) []Piece {
	if bound <= 0 {
		bound = DefaultBound
	}
	n := Count(len(text), bound)
	pieces := make([]Piece, 0, n)
	for i := 0; i < n; i++ {
		start := i * bound
		end := start + bound
		if end > len(text) {
			end = len(text)
		}
		part := text[start:end]
		pieces = append(pieces, Piece{Ordinal: i, Text: part, Digest: Digest(part)})
	}
	return pieces
}

func Digest(text string) string {
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("chunk: blake3 keyed hasher: " + err.Error())
	}
	_, _ = hasher.Write([]byte(text))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Verify checks that chunks hold exactly the ordinals 0..count-1.
func Verify(documentID string, count int, chunks []model.Chunk) error {
	ordinals := make([]int, 0, len(chunks))
	for _, c := range chunks {
		ordinals = append(ordinals, c.Ordinal)
	}
	if gap := appErr.NewChunkGapError(documentID, count, ordinals); gap != nil {
		return gap
	}
	return nil
}

// Assemble concatenates chunks in ordinal order after verifying contiguity.
// The input slice is not modified.
func Assemble(documentID string, count int, chunks []model.Chunk) (string, error) {
	if err := Verify(documentID, count, chunks); err != nil {
		return "", err
	}
	ordered := make([]model.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Ordinal < ordered[j].Ordinal })
	size := 0
	for _, c := range ordered {
		size += len(c.Text)
	}
	var sb strings.Builder
	sb.Grow(size)
	for _, c := range ordered {
		sb.WriteString(c.Text)
	}
	return sb.String(), nil
}

// Diff returns the pieces whose stored digest differs from the new one.
func Diff(pieces []Piece, stored []model.ChunkDigest) []Piece {
	existing := make(map[int]string, len(stored))
	for _, d := range stored {
		existing[d.Ordinal] = d.Digest
	}
	changed := make([]Piece, 0, len(pieces))
	for _, p := range pieces {
		if digest, ok := existing[p.Ordinal]; ok && digest == p.Digest {
			continue
		}
		changed = append(changed, p)
	}
	return changed
}
