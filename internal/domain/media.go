package domain

type MediaTrack struct {
	Index int    `json:"index"`
	Type  string `json:"type"`
	Codec string `json:"codec"`
}

type MediaInfo struct {
	Tracks   []MediaTrack `json:"tracks"`
	Duration float64      `json:"duration"`
}

func (m MediaInfo) HasAudio() bool {
	return m.hasTrack("audio")
}

func (m MediaInfo) HasVideo() bool {
	return m.hasTrack("video")
}

func (m MediaInfo) hasTrack(kind string) bool {
	for _, track := range m.Tracks {
		if track.Type == kind {
			return true
		}
	}
	return false
}
