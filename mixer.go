package anycaps

import (
	"fmt"

	"github.com/unixpickle/anydiff"
)

// ConcatRows joins batches of row vectors side by side.
//
// Each input packs batch rows; the i-th output row is the
// concatenation of the i-th row of every input, so that
// inputs [a0, a1] and [b0, b1] become [a0, b0, a1, b1].
func ConcatRows(batch int, ins ...anydiff.Res) anydiff.Res {
	widths := make([]int, len(ins))
	offsets := make([]int, len(ins))
	var total int
	for i, in := range ins {
		if in.Output().Len()%batch != 0 {
			panic(fmt.Sprintf("input %d: batch size %d does not divide length %d",
				i, batch, in.Output().Len()))
		}
		widths[i] = in.Output().Len() / batch
		offsets[i] = total
		total += in.Output().Len()
	}
	table := make([]int, 0, total)
	for row := 0; row < batch; row++ {
		for i, w := range widths {
			for j := 0; j < w; j++ {
				table = append(table, offsets[i]+row*w+j)
			}
		}
	}
	return Gather(anydiff.Concat(ins...), table)
}

// SplitRows is the inverse of ConcatRows.
// It splits each row of a batch into consecutive pieces
// of the given widths and returns one batch per piece.
func SplitRows(in anydiff.Res, batch int, widths ...int) []anydiff.Res {
	var total int
	for _, w := range widths {
		total += w
	}
	if total*batch != in.Output().Len() {
		panic(fmt.Sprintf("row widths sum to %d but input has %d components per row",
			total, in.Output().Len()/batch))
	}
	res := make([]anydiff.Res, len(widths))
	var offset int
	for i, w := range widths {
		table := make([]int, 0, w*batch)
		for row := 0; row < batch; row++ {
			for j := 0; j < w; j++ {
				table = append(table, row*total+offset+j)
			}
		}
		res[i] = Gather(in, table)
		offset += w
	}
	return res
}
