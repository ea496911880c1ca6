package segmenter

import "math"

const partitionTolerance = 1e-9

// Window is one planned cut of the source timeline.
type Window struct {
	Index    int
	Start    float64
	Duration float64
}

func (w Window) End() float64 {
	return w.Start + w.Duration
}

// Partition splits [0, duration) into ceil(duration/window) consecutive
// windows. The final window covers the remainder and may be shorter.
func Partition(duration, window float64) []Window {
	if duration <= 0 || window <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return nil
	}
	count := int(math.Ceil(duration/window - partitionTolerance))
	if count < 1 {
		count = 1
	}
	out := make([]Window, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * window
		length := window
		if i == count-1 {
			length = duration - float64(count-1)*window
		}
		out = append(out, Window{Index: i, Start: start, Duration: length})
	}
	return out
}

// batches groups windows into consecutive runs of at most size elements.
func batches(windows []Window, size int) [][]Window {
	if size < 1 {
		size = 1
	}
	out := make([][]Window, 0, (len(windows)+size-1)/size)
	for start := 0; start < len(windows); start += size {
		end := min(start+size, len(windows))
		out = append(out, windows[start:end])
	}
	return out
}
