package ui

import "math"

// FitTransform returns the scale and offsets that fit a frame into the view
// while preserving its aspect ratio, centring it with letterbox bars.
func FitTransform(viewW, viewH, frameW, frameH float64) (scale, offsetX, offsetY float64) {
	if frameW <= 0 || frameH <= 0 || viewW <= 0 || viewH <= 0 {
		return 0, 0, 0
	}
	scale = math.Min(viewW/frameW, viewH/frameH)
	offsetX = (viewW - frameW*scale) / 2
	offsetY = (viewH - frameH*scale) / 2
	return
}
