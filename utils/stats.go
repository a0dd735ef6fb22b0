package utils

import (
	"math"

	"github.com/montanaflynn/stats"
)

// RollingStats keeps the last N samples of a measurement and summarizes them.
type RollingStats struct {
	data   []float64
	pos    int
	filled bool
}

func NewRollingStats(numSamples int) *RollingStats {
	return &RollingStats{data: make([]float64, numSamples)}
}

func (rs *RollingStats) Add(x float64) {
	rs.data[rs.pos] = x
	rs.pos++
	if rs.pos >= len(rs.data) {
		rs.pos = 0
		rs.filled = true
	}
}

func (rs *RollingStats) samples() []float64 {
	if rs.filled {
		return rs.data
	}
	return rs.data[:rs.pos]
}

func (rs *RollingStats) Median() float64 {
	m, err := stats.Median(rs.samples())
	if err != nil {
		return math.NaN()
	}
	return m
}

func (rs *RollingStats) Mean() float64 {
	m, err := stats.Mean(rs.samples())
	if err != nil {
		return math.NaN()
	}
	return m
}
