// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package metrics declares the small set of prometheus counters/gauges
// this homeserver exposes: storage mutation counts, request totals, and
// in-flight /sync requests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsAppended counts every event appended to any room's timeline.
	EventsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hearth",
		Subsystem: "store",
		Name:      "events_appended_total",
		Help:      "Total number of events appended to any room timeline.",
	})

	// AccountDataSets counts every account-data set operation.
	AccountDataSets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hearth",
		Subsystem: "store",
		Name:      "account_data_sets_total",
		Help:      "Total number of account-data set operations.",
	})

	// ReceiptsSet counts every receipt set operation.
	ReceiptsSet = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hearth",
		Subsystem: "store",
		Name:      "receipts_set_total",
		Help:      "Total number of receipt set operations.",
	})

	// RequestsTotal counts every HTTP request the router served, labeled
	// by route and status code.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hearth",
		Subsystem: "router",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests served, by route and status.",
	}, []string{"route", "status"})

	// SyncWaitersInFlight tracks how many /sync requests are currently
	// being served, whether or not they are blocked in the notifier.
	SyncWaitersInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hearth",
		Subsystem: "sync",
		Name:      "waiters_in_flight",
		Help:      "Number of /sync requests currently in flight.",
	})
)
