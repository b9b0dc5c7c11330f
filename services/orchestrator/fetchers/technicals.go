// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetchers

import (
	"math"

	"github.com/finsightai/finsight/services/orchestrator/datatypes"
)

// minTechnicalCandles is the floor below which indicator values would be
// mostly warm-up noise.
const minTechnicalCandles = 30

// ComputeTechnicals derives the indicator set from daily candles, oldest
// first. Returns nil when there is not enough clean history. SMA200 is only
// populated once 200 bars exist; every other indicator uses whatever window
// it needs from the tail.
func ComputeTechnicals(candles []Candle) *datatypes.Technicals {
	if len(candles) < minTechnicalCandles {
		return nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	last := closes[len(closes)-1]

	macd, signal := computeMACD(closes)
	upper, lower := computeBollinger(closes, 20, 2.0)

	t := &datatypes.Technicals{
		LastClose:    last,
		SMA50:        sma(closes, 50),
		EMA20:        ema(closes, 20),
		RSI14:        rsi(closes, 14),
		MACD:         macd,
		MACDSignal:   signal,
		BollingerUp:  upper,
		BollingerLow: lower,
		VolumeAvg30:  volumeAvg(candles, 30),
		AsOf:         candles[len(candles)-1].Time.Format("2006-01-02"),
	}
	if len(closes) >= 200 {
		t.SMA200 = sma(closes, 200)
	}
	if len(closes) >= 22 {
		monthAgo := closes[len(closes)-22]
		if monthAgo != 0 {
			t.PriceChange1M = (last - monthAgo) / monthAgo * 100
		}
	}
	return t
}

// sma averages the last n closes, or everything when history is shorter.
func sma(closes []float64, n int) float64 {
	if len(closes) < n {
		n = len(closes)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range closes[len(closes)-n:] {
		sum += v
	}
	return sum / float64(n)
}

func ema(closes []float64, n int) float64 {
	if len(closes) == 0 {
		return 0
	}
	k := 2.0 / (float64(n) + 1.0)
	value := closes[0]
	for _, v := range closes[1:] {
		value = v*k + value*(1.0-k)
	}
	return value
}

// rsi is Wilder's RSI over the final period.
func rsi(closes []float64, period int) float64 {
	if len(closes) <= period {
		return 0
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		var g, l float64
		if delta > 0 {
			g = delta
		} else {
			l = -delta
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// computeMACD returns the MACD line (EMA12-EMA26) and its 9-period signal.
func computeMACD(closes []float64) (float64, float64) {
	if len(closes) < 26 {
		return 0, 0
	}

	emaSeries := func(n int) []float64 {
		k := 2.0 / (float64(n) + 1.0)
		out := make([]float64, len(closes))
		out[0] = closes[0]
		for i := 1; i < len(closes); i++ {
			out[i] = closes[i]*k + out[i-1]*(1.0-k)
		}
		return out
	}

	ema12 := emaSeries(12)
	ema26 := emaSeries(26)
	macdLine := make([]float64, len(closes))
	for i := range closes {
		macdLine[i] = ema12[i] - ema26[i]
	}

	k := 2.0 / 10.0
	signal := macdLine[0]
	for _, v := range macdLine[1:] {
		signal = v*k + signal*(1.0-k)
	}
	return macdLine[len(macdLine)-1], signal
}

// computeBollinger returns the upper and lower bands over the last n closes.
func computeBollinger(closes []float64, n int, width float64) (float64, float64) {
	if len(closes) < n {
		n = len(closes)
	}
	if n == 0 {
		return 0, 0
	}
	window := closes[len(closes)-n:]
	mean := sma(closes, n)

	var variance float64
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(n))
	return mean + width*std, mean - width*std
}

func volumeAvg(candles []Candle, n int) float64 {
	if len(candles) < n {
		n = len(candles)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for _, c := range candles[len(candles)-n:] {
		sum += float64(c.Volume)
	}
	return sum / float64(n)
}
