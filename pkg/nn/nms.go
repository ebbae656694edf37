package nn

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
)

// NonMaxSuppression removes duplicate detections of the same object.
// Boxes are considered duplicates when their IoU is at least minIoU, in which
// case the lower-confidence box is dropped. A spatial index keeps this from
// being an O(N^2) scan when the detector emits many candidates.
// Returns the surviving detections, ordered by descending confidence.
func NonMaxSuppression(input []ObjectDetection, minIoU float32) []ObjectDetection {
	if len(input) <= 1 {
		out := make([]ObjectDetection, len(input))
		copy(out, input)
		return out
	}

	order := make([]int, len(input))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return input[order[a]].Confidence > input[order[b]].Confidence
	})

	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(input))
	for _, det := range input {
		fb.Add(int32(det.Box.X), int32(det.Box.Y), int32(det.Box.X2()), int32(det.Box.Y2()))
	}
	fb.Finish()

	suppressed := make([]bool, len(input))
	keep := make([]ObjectDetection, 0, len(input))
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, input[i])
		box := input[i].Box
		for _, j := range fb.Search(int32(box.X), int32(box.Y), int32(box.X2()), int32(box.Y2())) {
			if j == i || suppressed[j] {
				continue
			}
			if input[i].Class == input[j].Class && box.IOU(input[j].Box) >= minIoU {
				suppressed[j] = true
			}
		}
	}
	return keep
}
