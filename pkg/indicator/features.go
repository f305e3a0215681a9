package indicator

import (
	"github.com/raykavin/stocknrun/pkg/core"
)

// Warmup periods. Values computed inside a warmup window are zero, the
// go-talib convention; callers gate on history length before trusting the
// tail of the series.
const (
	maxSpan       = 200
	week52Window  = 252
	kdjWindow     = 9
	kdjSmoothing  = 3.0 // EMA com=2
	bollingerSpan = 20
)

// Row is one OHLCV bar extended with the technical features the scanner
// and scorer consume. Trend booleans are encoded 0/1 so they stay
// numerically composable.
type Row struct {
	core.Bar

	MA5, MA10, MA20, MA50, MA120, MA200       float64
	EMA5, EMA10, EMA20, EMA50, EMA120, EMA200 float64

	RSI6, RSI14, RSI21 float64

	MACD, MACDSignal, MACDHist float64

	BBMid, BBUpper, BBLower float64
	BBPct, BBWidth          float64

	ATR14, ATRPct14 float64

	KDJK, KDJD, KDJJ float64

	VolumeRatio float64

	PctFrom52wHigh, PctFrom52wLow float64

	Ret1, Ret3, Ret5, Ret10, Ret20 float64

	AboveMA20, AboveMA50, AboveMA200 float64
	MA20Slope5                       float64

	CrossMA5MA20 int // +1 golden, -1 dead, 0 none
	CrossMACD    int
}

// Enrich computes the full feature set over a chronologically ordered bar
// sequence. The computation is pure: identical input bars produce
// identical rows.
func Enrich(bars []core.Bar) []Row {
	n := len(bars)
	if n == 0 {
		return nil
	}

	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, b := range bars {
		high[i] = b.High
		low[i] = b.Low
		closes[i] = b.Close
		volume[i] = b.Volume
	}

	mas := map[int][]float64{}
	emas := map[int][]float64{}
	for _, span := range []int{5, 10, 20, 50, 120, 200} {
		if n >= span {
			mas[span] = SMA(closes, span)
			emas[span] = EMA(closes, span)
		} else {
			mas[span] = make([]float64, n)
			emas[span] = make([]float64, n)
		}
	}

	rsis := map[int][]float64{}
	for _, p := range []int{6, 14, 21} {
		if n > p {
			rsis[p] = RSI(closes, p)
		} else {
			rsis[p] = make([]float64, n)
		}
	}

	var macd, macdSignal, macdHist []float64
	if n >= 35 {
		macd, macdSignal, macdHist = MACD(closes, 12, 26, 9)
	} else {
		macd, macdSignal, macdHist = make([]float64, n), make([]float64, n), make([]float64, n)
	}

	var bbUpper, bbMid, bbLower []float64
	if n >= bollingerSpan {
		bbUpper, bbMid, bbLower = BB(closes, bollingerSpan, 2, TypeSMA)
	} else {
		bbUpper, bbMid, bbLower = make([]float64, n), make([]float64, n), make([]float64, n)
	}

	atr14 := atrSMA(high, low, closes, 14)
	volMA20 := make([]float64, n)
	if n >= 20 {
		volMA20 = SMA(volume, 20)
	}

	kdjK, kdjD, kdjJ := kdj(high, low, closes)
	hi52, lo52 := rollingExtremes(high, low, week52Window)

	rows := make([]Row, n)
	for i := range bars {
		r := Row{Bar: bars[i]}

		r.MA5, r.MA10, r.MA20 = mas[5][i], mas[10][i], mas[20][i]
		r.MA50, r.MA120, r.MA200 = mas[50][i], mas[120][i], mas[200][i]
		r.EMA5, r.EMA10, r.EMA20 = emas[5][i], emas[10][i], emas[20][i]
		r.EMA50, r.EMA120, r.EMA200 = emas[50][i], emas[120][i], emas[200][i]

		r.RSI6, r.RSI14, r.RSI21 = rsis[6][i], rsis[14][i], rsis[21][i]
		r.MACD, r.MACDSignal, r.MACDHist = macd[i], macdSignal[i], macdHist[i]

		r.BBMid, r.BBUpper, r.BBLower = bbMid[i], bbUpper[i], bbLower[i]
		if band := bbUpper[i] - bbLower[i]; band > 0 {
			r.BBPct = (closes[i] - bbLower[i]) / band
		}
		if bbMid[i] > 0 {
			r.BBWidth = (bbUpper[i] - bbLower[i]) / bbMid[i]
		}

		r.ATR14 = atr14[i]
		if closes[i] > 0 {
			r.ATRPct14 = atr14[i] / closes[i]
		}

		r.KDJK, r.KDJD, r.KDJJ = kdjK[i], kdjD[i], kdjJ[i]

		if volMA20[i] > 0 {
			r.VolumeRatio = volume[i] / volMA20[i]
		}

		if hi52[i] > 0 {
			r.PctFrom52wHigh = (closes[i] - hi52[i]) / hi52[i] * 100
		}
		if lo52[i] > 0 {
			r.PctFrom52wLow = (closes[i] - lo52[i]) / lo52[i] * 100
		}

		r.Ret1 = pctReturn(closes, i, 1)
		r.Ret3 = pctReturn(closes, i, 3)
		r.Ret5 = pctReturn(closes, i, 5)
		r.Ret10 = pctReturn(closes, i, 10)
		r.Ret20 = pctReturn(closes, i, 20)

		r.AboveMA20 = aboveFlag(closes[i], r.MA20)
		r.AboveMA50 = aboveFlag(closes[i], r.MA50)
		r.AboveMA200 = aboveFlag(closes[i], r.MA200)

		if i >= 5 && mas[20][i-5] > 0 {
			r.MA20Slope5 = (mas[20][i] - mas[20][i-5]) / mas[20][i-5]
		}

		if i >= 1 {
			r.CrossMA5MA20 = crossMark(mas[5][:i+1], mas[20][:i+1], mas[20][i-1] > 0)
			r.CrossMACD = crossMark(macd[:i+1], macdSignal[:i+1], macdSignal[i-1] != 0 || macd[i-1] != 0)
		}

		rows[i] = r
	}

	return rows
}

// atrSMA computes ATR as a rolling simple mean of the true range.
func atrSMA(high, low, closes []float64, period int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	if n <= period {
		return out
	}
	tr := TRange(high, low, closes)
	sma := SMA(tr, period)
	copy(out, sma)
	return out
}

// kdj computes the KDJ oscillator over a 9-bar range with EMA com=2
// smoothing; J = 3K - 2D.
func kdj(high, low, closes []float64) (k, d, j []float64) {
	n := len(closes)
	k = make([]float64, n)
	d = make([]float64, n)
	j = make([]float64, n)

	const alpha = 1.0 / kdjSmoothing

	for i := 0; i < n; i++ {
		lo, hi := low[i], high[i]
		start := i - kdjWindow + 1
		if start < 0 {
			start = 0
		}
		for x := start; x <= i; x++ {
			if low[x] < lo {
				lo = low[x]
			}
			if high[x] > hi {
				hi = high[x]
			}
		}

		rsv := 50.0
		if hi > lo {
			rsv = (closes[i] - lo) / (hi - lo) * 100
		}

		if i == 0 {
			k[i] = rsv
			d[i] = k[i]
		} else {
			k[i] = alpha*rsv + (1-alpha)*k[i-1]
			d[i] = alpha*k[i] + (1-alpha)*d[i-1]
		}
		j[i] = 3*k[i] - 2*d[i]
	}

	return k, d, j
}

// rollingExtremes computes the rolling max high and min low over up to
// window bars, with min_periods=1 semantics so early bars still anchor.
func rollingExtremes(high, low []float64, window int) (hi, lo []float64) {
	n := len(high)
	hi = make([]float64, n)
	lo = make([]float64, n)
	for i := 0; i < n; i++ {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		h, l := high[i], low[i]
		for x := start; x <= i; x++ {
			if high[x] > h {
				h = high[x]
			}
			if low[x] < l {
				l = low[x]
			}
		}
		hi[i], lo[i] = h, l
	}
	return hi, lo
}

func pctReturn(closes []float64, i, lag int) float64 {
	if i < lag || closes[i-lag] == 0 {
		return 0
	}
	return (closes[i]/closes[i-lag] - 1) * 100
}

func aboveFlag(close, ma float64) float64 {
	if ma > 0 && close > ma {
		return 1
	}
	return 0
}

// crossMark maps a fast/slow crossover to the +1/0/-1 signal convention.
// warm gates out the leading zeros of an unwarmed indicator.
func crossMark(fast, slow core.Series[float64], warm bool) int {
	if !warm {
		return 0
	}
	switch {
	case fast.Crossover(slow):
		return 1
	case fast.Crossunder(slow):
		return -1
	}
	return 0
}
