// GOMailSync
// Copyright (C) 2014 Simone Gotti <simone.gotti@gmail.com>
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

package mailsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlineimap_sync_operations_total",
			Help: "Number of applied sync operations.",
		},
		[]string{"op"},
	)
	metricErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlineimap_sync_errors_total",
			Help: "Number of folder and account failures, by error kind.",
		},
		[]string{"kind"},
	)
	metricConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offlineimap_sync_conflicts_total",
			Help: "Number of conflicts resolved by policy.",
		},
	)
	metricBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlineimap_sync_bytes_total",
			Help: "Message bytes copied, by destination.",
		},
		[]string{"to"},
	)
	metricPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "offlineimap_pass_duration_seconds",
			Help:    "Duration of sync passes.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
	)
)
