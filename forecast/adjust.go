package forecast

// AlignToLive shifts a series so its first day matches the live count. The offset is
// live minus the first day's yhat. Bounds move with yhat when shiftBounds is set;
// otherwise they keep the model's original uncertainty. All values are floored at 0.
func AlignToLive(points []ForecastPoint, live float64, shiftBounds bool) ([]ForecastPoint, float64) {
	if len(points) == 0 {
		return nil, 0
	}
	offset := live - points[0].Yhat
	out := make([]ForecastPoint, len(points))
	for i, p := range points {
		p.Yhat = nonNegative(p.Yhat + offset)
		if shiftBounds {
			p.YhatLower = nonNegative(p.YhatLower + offset)
			p.YhatUpper = nonNegative(p.YhatUpper + offset)
		}
		out[i] = p
	}
	return out, offset
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
