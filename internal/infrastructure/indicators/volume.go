package indicators

// VolumeRatio is the last volume divided by the mean of the last period
// volumes. It returns 1 when the mean is zero or there is no data.
func VolumeRatio(volumes []float64, period int) float64 {
	if len(volumes) == 0 || period < 1 {
		return 1
	}
	window := volumes
	if len(window) > period {
		window = window[len(window)-period:]
	}
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(len(window))
	if mean == 0 {
		return 1
	}
	return volumes[len(volumes)-1] / mean
}
