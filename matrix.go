package anycaps

import (
	"fmt"

	"github.com/unixpickle/anydiff"
)

// BroadcastMatMul multiplies corresponding matrices from
// two batches, optionally transposing either side.
//
// If the batches differ in size, the smaller count must
// divide the larger one.
// Each matrix of the smaller batch is then paired with a
// contiguous run of matrices from the larger batch, which
// is how a per-object matrix is applied to all of that
// object's votes.
func BroadcastMatMul(transA, transB bool, a, b *anydiff.MatrixBatch) *anydiff.MatrixBatch {
	checkBatch("left", a)
	checkBatch("right", b)
	num := a.Num
	if b.Num > num {
		num = b.Num
	}
	if num%a.Num != 0 || num%b.Num != 0 {
		panic(fmt.Sprintf("batch sizes %d and %d are incompatible", a.Num, b.Num))
	}
	return anydiff.BatchedMatMul(transA, transB, broadcastBatch(a, num),
		broadcastBatch(b, num))
}

func checkBatch(side string, m *anydiff.MatrixBatch) {
	if m.Num <= 0 {
		panic(fmt.Sprintf("%s batch is empty", side))
	}
	if m.Data.Output().Len() != m.Num*m.Rows*m.Cols {
		panic(fmt.Sprintf("%s batch should have %d components but has %d", side,
			m.Num*m.Rows*m.Cols, m.Data.Output().Len()))
	}
}

func broadcastBatch(m *anydiff.MatrixBatch, num int) *anydiff.MatrixBatch {
	if m.Num == num {
		return m
	}
	return &anydiff.MatrixBatch{
		Data: RepeatChunks(m.Data, m.Rows*m.Cols, num/m.Num),
		Num:  num,
		Rows: m.Rows,
		Cols: m.Cols,
	}
}
