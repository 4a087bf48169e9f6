// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"fmt"
	"strings"
)

// StatsHistogram represents statistic data in a histogram structure.
type StatsHistogram struct {
	Count   uint64
	Sum     uint64            // milliseconds
	Buckets map[uint64]uint64 // bucket upper bound in milliseconds -> count
}

func (s *StatsHistogram) String() string {
	return fmt.Sprintf("count %d sum %d values %v", s.Count, s.Sum, s.Buckets)
}

// Time measurement categories, mirroring the retryable-write executor's
// own phases rather than a generic SQL driver's (query/prepare/fetch).
const (
	StatsTimeAttempt1 = iota // time spent in the first executeAttempt call
	StatsTimeAttempt2        // time spent in the retried executeAttempt call
	StatsTimeChannelAcquire  // time spent acquiring a channel/channel source
	StatsTimeCursorGetMore   // time spent issuing getMore
	NumStatsTime
)

var statsTimeTexts = []string{"attempt1", "attempt2", "channelAcquire", "cursorGetMore"}

// StatsTimeTexts returns the texts of the time measurement categories.
func StatsTimeTexts() []string {
	out := make([]string, len(statsTimeTexts))
	copy(out, statsTimeTexts)
	return out
}

// Stats contains executor-level driver statistics, exposed both directly
// and through the optional Prometheus collector in driver/prometheus.
type Stats struct {
	OpenChannelSources int
	OpenChannels       int
	OpenCursors        int
	AttemptCount       uint64
	RetryCount         uint64
	ChannelReplacementCount uint64

	Times []*StatsHistogram
}

func (s Stats) String() string {
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("\nopenChannelSources %d", s.OpenChannelSources))
	sb.WriteString(fmt.Sprintf("\nopenChannels       %d", s.OpenChannels))
	sb.WriteString(fmt.Sprintf("\nopenCursors        %d", s.OpenCursors))
	sb.WriteString(fmt.Sprintf("\nattempts           %d", s.AttemptCount))
	sb.WriteString(fmt.Sprintf("\nretries            %d", s.RetryCount))
	sb.WriteString(fmt.Sprintf("\nchannelReplacements %d", s.ChannelReplacementCount))
	sb.WriteString("\nTimes")
	for i, t := range s.Times {
		sb.WriteString(fmt.Sprintf("\n  %-16s %s", statsTimeTexts[i], t.String()))
	}
	return sb.String()
}
