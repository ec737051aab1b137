package trainer

import (
	"github.com/vk/nmtkit/internal/bleu"
	"github.com/vk/nmtkit/internal/seq2seq"
	"github.com/vk/nmtkit/internal/tensor"
)

// estimateBLEU scores one batch of sampled hypotheses against batch-major
// targets and returns the mean smoothed BLEU. Per example: the reference is
// the target span between its leading and trailing sentinels, the hypothesis
// is cut at its first end-of-sequence token (or at the reference's content
// length when no end token appears), and an empty hypothesis scores 0.
func estimateBLEU(sampled, tgt *tensor.Matrix) float64 {
	if tgt.Rows == 0 {
		return 0
	}
	total := 0.0
	for i := 0; i < tgt.Rows; i++ {
		targetLen := tgt.MaskedLen(i)

		refEnd := targetLen - 1
		if refEnd < 1 {
			refEnd = 1
		}
		ref := tgt.Row(i)[1:refEnd]

		hyp := sampled.Row(i)
		if cut := indexOf(hyp, seq2seq.EosID); cut >= 0 {
			hyp = hyp[:cut]
		} else {
			limit := targetLen - 2
			if limit < 0 {
				limit = 0
			}
			if limit > len(hyp) {
				limit = len(hyp)
			}
			hyp = hyp[:limit]
		}

		if len(hyp) > 0 {
			total += bleu.Smoothed(hyp, ref)
		}
	}
	return total / float64(tgt.Rows)
}

func indexOf(tokens []int64, want int64) int {
	for i, tok := range tokens {
		if tok == want {
			return i
		}
	}
	return -1
}
