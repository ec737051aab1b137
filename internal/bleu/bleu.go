// Package bleu implements the smoothed sentence-level BLEU used for
// validation-time model selection. It scores raw token ids without
// detokenization, so it is a selection proxy, not a reporting metric.
package bleu

import (
	"fmt"
	"math"
)

const maxOrder = 4

// Smoothed returns the add-one smoothed BLEU of a hypothesis against a single
// reference, both given as token id sequences. Each n-gram precision up to
// order 4 is smoothed as (matched+1)/(total+1), combined by geometric mean and
// scaled by the usual brevity penalty. An empty hypothesis scores 0.
func Smoothed(hyp, ref []int64) float64 {
	if len(hyp) == 0 {
		return 0
	}

	logPrecSum := 0.0
	for n := 1; n <= maxOrder; n++ {
		matched, total := ngramMatches(hyp, ref, n)
		logPrecSum += math.Log(float64(matched+1) / float64(total+1))
	}

	brevity := math.Min(0, 1-float64(len(ref))/float64(len(hyp)))
	return math.Exp(brevity + logPrecSum/maxOrder)
}

// ngramMatches counts clipped n-gram matches between hypothesis and reference
// and the total number of hypothesis n-grams of the given order.
func ngramMatches(hyp, ref []int64, n int) (matched, total int) {
	if len(hyp) < n {
		return 0, 0
	}
	refCounts := make(map[string]int)
	for i := 0; i+n <= len(ref); i++ {
		refCounts[gramKey(ref[i:i+n])]++
	}
	for i := 0; i+n <= len(hyp); i++ {
		key := gramKey(hyp[i : i+n])
		if refCounts[key] > 0 {
			refCounts[key]--
			matched++
		}
		total++
	}
	return matched, total
}

func gramKey(gram []int64) string {
	return fmt.Sprint(gram)
}
