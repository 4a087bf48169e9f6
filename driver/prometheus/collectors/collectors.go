// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

// Package collectors implements Prometheus collectors for driver.Cluster.
package collectors

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nimbusdb/nimbus-go-driver/driver"
)

const namespace = "nimbus_driver"

type stats interface {
	Stats() driver.Stats
}

var statsTimeTexts = driver.StatsTimeTexts()

type collector struct {
	s stats

	openChannelSources *prometheus.Desc
	openChannels       *prometheus.Desc
	openCursors        *prometheus.Desc
	attempts           *prometheus.Desc
	retries            *prometheus.Desc
	channelReplacements *prometheus.Desc
	times              *prometheus.Desc
}

func newCollector(s stats, subsystem string, labels prometheus.Labels) prometheus.Collector {
	fqName := func(name string) string { return strings.Join([]string{namespace, subsystem, name}, "_") }
	return &collector{
		s: s,
		openChannelSources: prometheus.NewDesc(
			fqName("open_channel_sources"),
			fmt.Sprintf("The number of open %s channel sources.", subsystem),
			nil, labels,
		),
		openChannels: prometheus.NewDesc(
			fqName("open_channels"),
			fmt.Sprintf("The number of leased %s channels.", subsystem),
			nil, labels,
		),
		openCursors: prometheus.NewDesc(
			fqName("open_cursors"),
			fmt.Sprintf("The number of open %s cursors.", subsystem),
			nil, labels,
		),
		attempts: prometheus.NewDesc(
			fqName("attempts_total"),
			fmt.Sprintf("The total number of %s operation attempts.", subsystem),
			nil, labels,
		),
		retries: prometheus.NewDesc(
			fqName("retries_total"),
			fmt.Sprintf("The total number of retried %s write attempts.", subsystem),
			nil, labels,
		),
		channelReplacements: prometheus.NewDesc(
			fqName("channel_replacements_total"),
			fmt.Sprintf("The total number of %s channel replacements before a retry.", subsystem),
			nil, labels,
		),
		times: prometheus.NewDesc(
			fqName("time_stats"),
			fmt.Sprintf("The spent time measured in milliseconds for the different time categories of %s.", subsystem),
			[]string{"time"}, labels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openChannelSources
	ch <- c.openChannels
	ch <- c.openCursors
	ch <- c.attempts
	ch <- c.retries
	ch <- c.channelReplacements
	for i := 0; i < int(driver.NumStatsTime); i++ {
		ch <- c.times
	}
}

func buckets(h *driver.StatsHistogram) map[float64]uint64 {
	b := make(map[float64]uint64, len(h.Buckets))
	for k, v := range h.Buckets {
		b[float64(k)] = v
	}
	return b
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.s.Stats()
	ch <- prometheus.MustNewConstMetric(c.openChannelSources, prometheus.GaugeValue, float64(s.OpenChannelSources))
	ch <- prometheus.MustNewConstMetric(c.openChannels, prometheus.GaugeValue, float64(s.OpenChannels))
	ch <- prometheus.MustNewConstMetric(c.openCursors, prometheus.GaugeValue, float64(s.OpenCursors))
	ch <- prometheus.MustNewConstMetric(c.attempts, prometheus.CounterValue, float64(s.AttemptCount))
	ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(s.RetryCount))
	ch <- prometheus.MustNewConstMetric(c.channelReplacements, prometheus.CounterValue, float64(s.ChannelReplacementCount))
	for i, h := range s.Times {
		ch <- prometheus.MustNewConstHistogram(c.times, h.Count, float64(h.Sum), buckets(h), statsTimeTexts[i])
	}
}

// NewClusterCollector returns a collector that exports *driver.Cluster metrics.
func NewClusterCollector(cl *driver.Cluster, clusterName string) prometheus.Collector {
	return newCollector(cl, "cluster", prometheus.Labels{"cluster_name": clusterName})
}
