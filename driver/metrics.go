// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package driver

import "slices"

const (
	counterAttempts = iota
	counterRetries
	counterChannelReplacements
	numCounter
)

const (
	gaugeChannelSources = iota
	gaugeChannels
	gaugeCursors
	numGauge
)

// defaultTimeBuckets are histogram bucket upper bounds in milliseconds.
var defaultTimeBuckets = []uint64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

type histogram struct {
	count     uint64
	sum       uint64
	keys      []uint64
	values    []uint64
	underflow uint64
}

func newHistogram(keys []uint64) *histogram {
	return &histogram{keys: keys, values: make([]uint64, len(keys))}
}

func (h *histogram) stats() *StatsHistogram {
	rv := &StatsHistogram{
		Count:   h.count,
		Sum:     h.sum / 1e6, // nanoseconds -> milliseconds
		Buckets: make(map[uint64]uint64, len(h.keys)),
	}
	for i, key := range h.keys {
		rv.Buckets[key] = h.values[i]
	}
	return rv
}

func (h *histogram) add(ns int64) {
	h.count++
	if ns < 0 {
		h.underflow++
		return
	}
	h.sum += uint64(ns)
	i, _ := slices.BinarySearch(h.keys, uint64(ns)/1e6)
	if i < len(h.keys) {
		h.values[i]++
	}
}

type counterMsg struct {
	v   uint64
	idx int
}

type gaugeMsg struct {
	v   int64
	idx int
}

type timeMsg struct {
	ns  int64
	idx int
}

// metrics is a channel-serialized counter/gauge/histogram collector: every
// mutation is a message sent on a buffered channel and applied by a single
// goroutine, so callers on the executor's hot path never block on a mutex
// held by a concurrent Stats snapshot.
type metrics struct {
	counters []uint64
	gauges   []int64
	times    []*histogram

	chCounters chan counterMsg
	chGauges   chan gaugeMsg
	chTimes    chan timeMsg
	chReqStats chan chan Stats
}

const (
	numChMetrics = 100
	numChStats   = 10
)

func newMetrics() *metrics {
	m := &metrics{
		counters:   make([]uint64, numCounter),
		gauges:     make([]int64, numGauge),
		times:      make([]*histogram, NumStatsTime),
		chCounters: make(chan counterMsg, numChMetrics),
		chGauges:   make(chan gaugeMsg, numChMetrics),
		chTimes:    make(chan timeMsg, numChMetrics),
		chReqStats: make(chan chan Stats, numChStats),
	}
	for i := range m.times {
		m.times[i] = newHistogram(defaultTimeBuckets)
	}
	go m.collect()
	return m
}

func (m *metrics) collect() {
	for {
		select {
		case msg := <-m.chCounters:
			m.counters[msg.idx] += msg.v
		case msg := <-m.chGauges:
			m.gauges[msg.idx] += msg.v
		case msg := <-m.chTimes:
			m.times[msg.idx].add(msg.ns)
		case chStats := <-m.chReqStats:
			// apply every mutation already queued, so the snapshot reflects
			// all calls that returned before Stats was requested.
			for drained := false; !drained; {
				select {
				case msg := <-m.chCounters:
					m.counters[msg.idx] += msg.v
				case msg := <-m.chGauges:
					m.gauges[msg.idx] += msg.v
				case msg := <-m.chTimes:
					m.times[msg.idx].add(msg.ns)
				default:
					drained = true
				}
			}
			chStats <- m.buildStats()
		}
	}
}

func (m *metrics) buildStats() Stats {
	times := make([]*StatsHistogram, NumStatsTime)
	for i, h := range m.times {
		times[i] = h.stats()
	}
	return Stats{
		OpenChannelSources:      int(m.gauges[gaugeChannelSources]),
		OpenChannels:            int(m.gauges[gaugeChannels]),
		OpenCursors:             int(m.gauges[gaugeCursors]),
		AttemptCount:            m.counters[counterAttempts],
		RetryCount:              m.counters[counterRetries],
		ChannelReplacementCount: m.counters[counterChannelReplacements],
		Times:                   times,
	}
}

func (m *metrics) stats() Stats {
	ch := make(chan Stats)
	m.chReqStats <- ch
	return <-ch
}

func (m *metrics) addAttempt()            { m.chCounters <- counterMsg{v: 1, idx: counterAttempts} }
func (m *metrics) addRetry()              { m.chCounters <- counterMsg{v: 1, idx: counterRetries} }
func (m *metrics) addChannelReplacement() { m.chCounters <- counterMsg{v: 1, idx: counterChannelReplacements} }

func (m *metrics) addOpenChannelSources(delta int) { m.chGauges <- gaugeMsg{v: int64(delta), idx: gaugeChannelSources} }
func (m *metrics) addOpenChannels(delta int)       { m.chGauges <- gaugeMsg{v: int64(delta), idx: gaugeChannels} }
func (m *metrics) addOpenCursors(delta int)        { m.chGauges <- gaugeMsg{v: int64(delta), idx: gaugeCursors} }

func (m *metrics) addTime(category int, ns int64) { m.chTimes <- timeMsg{ns: ns, idx: category} }
