package domain

import "fmt"

type Segment struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Payload   []byte  `json:"-"`
}

func (s Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// SegmentName is the engine-side and download name of the segment at index.
func SegmentName(index int) string {
	return fmt.Sprintf("segment_%04d.mp4", index)
}

type DubStatus string

const (
	DubStatusPending  DubStatus = "pending"
	DubStatusUploaded DubStatus = "uploaded"
)

// DubSegment pairs a produced segment with its externally dubbed replacement.
// A pending segment never carries a replacement; an uploaded one always does.
type DubSegment struct {
	Index       int       `json:"index"`
	Segment     Segment   `json:"segment"`
	Status      DubStatus `json:"status"`
	Replacement []byte    `json:"-"`
}

func (d DubSegment) Uploaded() bool {
	return d.Status == DubStatusUploaded && len(d.Replacement) > 0
}

type FinalArtifacts struct {
	MergedAudio []byte `json:"-"`
	FinalVideo  []byte `json:"-"`
}

func (a FinalArtifacts) Complete() bool {
	return len(a.MergedAudio) > 0 && len(a.FinalVideo) > 0
}
