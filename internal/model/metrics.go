package model

import "math"

// Median returns the median of the non-zero values. Zero samples are ignored
// so that unplayed or unscraped rows do not drag the baseline down. Returns 0
// when no non-zero values exist.
func Median(values []int64) float64 {
	nz := make([]int64, 0, len(values))
	for _, v := range values {
		if v > 0 {
			nz = append(nz, v)
		}
	}
	if len(nz) == 0 {
		return 0
	}
	// Insertion sort; batches are small (page size <= 100).
	for i := 1; i < len(nz); i++ {
		for j := i; j > 0 && nz[j] < nz[j-1]; j-- {
			nz[j], nz[j-1] = nz[j-1], nz[j]
		}
	}
	mid := len(nz) / 2
	if len(nz)%2 == 1 {
		return float64(nz[mid])
	}
	return float64(nz[mid-1]+nz[mid]) / 2
}

// Mean returns the arithmetic mean over all values (zeros included).
func Mean(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

// Std returns the population standard deviation. Fewer than two samples, or
// all-zero samples, yield 0.
func Std(values []int64) float64 {
	if len(values) < 2 {
		return 0
	}
	allZero := true
	for _, v := range values {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return 0
	}
	mean := Mean(values)
	var sq float64
	for _, v := range values {
		d := float64(v) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// OutlierScore divides a content metric by its owner's median for the same
// metric, rounded to 4 decimals. A zero median yields 0.
func OutlierScore(value int64, median float64) float64 {
	if median == 0 {
		return 0
	}
	return math.Round(float64(value)/median*10000) / 10000
}

// Aggregate computes AggMetrics for a set of reels using view counts.
func Aggregate(reels []Content) AggMetrics {
	views := make([]int64, 0, len(reels))
	var m AggMetrics
	for _, r := range reels {
		views = append(views, r.ViewCount)
		m.TotalViews += r.ViewCount
		m.TotalLikes += r.LikeCount
		m.TotalComments += r.CommentCount
	}
	m.TotalReels = len(reels)
	m.MedianViews = Median(views)
	m.MeanViews = Mean(views)
	m.StdViews = Std(views)
	return m
}

// ScoreOutliers fills OutlierScore on every row against the owner median of
// the row's performance metric (views for reels, likes for posts). Medians
// are computed per kind so a reel's view count is never compared against a
// post's like baseline.
func ScoreOutliers(items []Content) {
	byKind := make(map[ContentKind][]int64, 2)
	for _, c := range items {
		byKind[c.Kind] = append(byKind[c.Kind], c.PerformanceValue())
	}
	medians := make(map[ContentKind]float64, len(byKind))
	for kind, vals := range byKind {
		medians[kind] = Median(vals)
	}
	for i := range items {
		items[i].OutlierScore = OutlierScore(items[i].PerformanceValue(), medians[items[i].Kind])
	}
}
