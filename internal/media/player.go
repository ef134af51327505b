package media

import (
	"time"

	"github.com/sakif/crono-esfera/internal/model"
)

// LoopInterval is how long each frame of a loop stays on screen.
const LoopInterval = 120 * time.Millisecond

// FrameIndex is the loop frame shown after elapsed playback time.
// Single images always show frame 0.
func FrameIndex(m model.Media, elapsed time.Duration) int {
	n := len(m.Frames)
	if n <= 1 || elapsed <= 0 {
		return 0
	}
	return int(elapsed/LoopInterval) % n
}

// CurrentIndex picks the frame every viewer sees at now. Playback is
// anchored at the unix epoch, so loops on different screens stay in step.
func CurrentIndex(m model.Media, now time.Time) int {
	return FrameIndex(m, time.Duration(now.UnixMilli())*time.Millisecond)
}
