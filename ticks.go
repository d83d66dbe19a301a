package b2lambda

import (
	"math"
	"strconv"

	"gonum.org/v1/plot"
)

// LogTicks marks decades on a logarithmic axis, with minor ticks at
// 2..9 times each decade. It is meant for 1 - AUC axes, which typically
// span several decades below 1e-2.
type LogTicks struct{}

func (LogTicks) Ticks(min, max float64) []plot.Tick {
	if min <= 0 || max <= min {
		panic("illegal range")
	}

	var ticks []plot.Tick
	for e := math.Floor(math.Log10(min)); e <= math.Ceil(math.Log10(max)); e++ {
		decade := math.Pow10(int(e))
		for mult := 1; mult < 10; mult++ {
			val := round(float64(mult)*decade, -int(e))
			if val < min || val > max {
				continue
			}
			tick := plot.Tick{Value: val}
			if mult == 1 {
				tick.Label = formatFloatTick(val, -1)
			}
			ticks = append(ticks, tick)
		}
	}

	// A range inside one decade would otherwise carry no labels.
	labelled := false
	for _, t := range ticks {
		if t.Label != "" {
			labelled = true
			break
		}
	}
	if !labelled {
		for i := range ticks {
			ticks[i].Label = formatFloatTick(ticks[i].Value, 2)
		}
	}
	return ticks
}

// CountTicks places labelled ticks on integer values, such as the number
// of features left in a selection. Steps grow in 1, 2, 5 multiples to keep
// at most NSuggestedTicks labels.
type CountTicks struct {
	NSuggestedTicks int
}

func (t CountTicks) Ticks(min, max float64) []plot.Tick {
	if t.NSuggestedTicks == 0 {
		t.NSuggestedTicks = 8
	}

	if max < min {
		panic("illegal range")
	}

	lo := math.Ceil(min)
	hi := math.Floor(max)
	step := 1.
	for n := 0; (hi-lo)/step > float64(t.NSuggestedTicks); n++ {
		switch n % 3 {
		case 0:
			step *= 2
		case 1:
			step *= 2.5
		case 2:
			step *= 2
		}
	}

	var ticks []plot.Tick
	for val := lo; val <= hi; val++ {
		tick := plot.Tick{Value: val}
		if math.Mod(val, step) == 0 {
			tick.Label = strconv.Itoa(int(val))
		}
		ticks = append(ticks, tick)
	}
	return ticks
}

func round(x float64, prec int) float64 {
	if x == 0 {
		// Make sure zero is returned
		// without the negative bit set.
		return 0
	}
	pow := math.Pow10(prec)
	intermed := x * pow
	if math.IsInf(intermed, 0) {
		return x
	}
	if x < 0 {
		x = math.Ceil(intermed - 0.5)
	} else {
		x = math.Floor(intermed + 0.5)
	}

	if x == 0 {
		return 0
	}

	return x / pow
}

func formatFloatTick(v float64, prec int) string {
	return strconv.FormatFloat(v, 'g', prec, 64)
}
