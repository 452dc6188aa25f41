package backtest

import (
	"fmt"

	"ohmycoins/src/model"
)

// builtinStrategy resolves a named strategy. The MA crossover is the
// default when no name is given.
func builtinStrategy(name string) (StrategyFunc, error) {
	switch name {
	case "", "ma_crossover":
		return MACrossoverStrategy, nil
	case "momentum":
		return MomentumStrategy, nil
	case "buy_and_hold":
		return BuyAndHoldStrategy, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// MACrossoverStrategy holds a long position while the short moving average
// of closes sits above the long one. Params: short_window (12), long_window
// (48).
func MACrossoverStrategy(bars []model.OHLCVBar, params map[string]float64) []int {
	short := intParam(params, "short_window", 12)
	long := intParam(params, "long_window", 48)
	if short <= 0 || long <= short {
		return make([]int, len(bars))
	}

	closes := closeSeries(bars)
	positions := make([]int, len(bars))
	for i := long; i < len(bars); i++ {
		if average(closes[i-short:i]) > average(closes[i-long:i]) {
			positions[i] = 1
		}
	}
	return positions
}

// MomentumStrategy goes long when the return over the lookback exceeds the
// threshold and short on the mirrored drop. Params: lookback (12),
// threshold (0.02).
func MomentumStrategy(bars []model.OHLCVBar, params map[string]float64) []int {
	lookback := intParam(params, "lookback", 12)
	threshold := params["threshold"]
	if threshold <= 0 {
		threshold = 0.02
	}
	if lookback <= 0 {
		return make([]int, len(bars))
	}

	closes := closeSeries(bars)
	positions := make([]int, len(bars))
	for i := lookback; i < len(bars); i++ {
		if closes[i-lookback] <= 0 {
			continue
		}
		ret := closes[i]/closes[i-lookback] - 1
		switch {
		case ret >= threshold:
			positions[i] = 1
		case ret <= -threshold:
			positions[i] = -1
		}
	}
	return positions
}

// BuyAndHoldStrategy is long from the first bar. Useful as a baseline.
func BuyAndHoldStrategy(bars []model.OHLCVBar, params map[string]float64) []int {
	positions := make([]int, len(bars))
	for i := range positions {
		positions[i] = 1
	}
	return positions
}

func intParam(params map[string]float64, key string, fallback int) int {
	if v, ok := params[key]; ok && v > 0 {
		return int(v)
	}
	return fallback
}

func closeSeries(bars []model.OHLCVBar) []float64 {
	closes := make([]float64, len(bars))
	for i := range bars {
		closes[i], _ = bars[i].Close.Float64()
	}
	return closes
}

func average(window []float64) float64 {
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}
