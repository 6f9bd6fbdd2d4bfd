package engine

// FirstTouchResult indicates which exit level a bar resolves to
type FirstTouchResult int

const (
	TouchNone FirstTouchResult = iota
	TouchTarget
	TouchStop
)

// ResolveFirstTouchLong checks the stop before the target. When a bar breaches
// both, the intrabar path is unknown and the worse outcome is assumed.
func ResolveFirstTouchLong(bar Bar, target, stop float64) FirstTouchResult {
	if bar.Low <= stop {
		return TouchStop
	}
	if bar.High >= target {
		return TouchTarget
	}
	return TouchNone
}

// ResolveFirstTouchShort mirrors the long logic for shorts
func ResolveFirstTouchShort(bar Bar, target, stop float64) FirstTouchResult {
	if bar.High >= stop {
		return TouchStop
	}
	if bar.Low <= target {
		return TouchTarget
	}
	return TouchNone
}

func ResolveFirstTouch(side Side, bar Bar, target, stop float64) FirstTouchResult {
	if side == SideSell {
		return ResolveFirstTouchShort(bar, target, stop)
	}
	return ResolveFirstTouchLong(bar, target, stop)
}
