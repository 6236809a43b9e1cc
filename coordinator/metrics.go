// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type coordinatorMetrics struct {
	actionsTotal   *prometheus.CounterVec
	pendingActions prometheus.Gauge
}

func newCoordinatorMetrics(
	registry prometheus.Registerer,
) *coordinatorMetrics {
	promautoFactory := promauto.With(registry)
	return &coordinatorMetrics{
		actionsTotal: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voice_coordinator_actions_total",
				Help: "total ledger actions by kind and result",
			},
			[]string{"kind", "result"},
		),
		pendingActions: promautoFactory.NewGauge(
			prometheus.GaugeOpts{
				Name: "voice_coordinator_pending_actions",
				Help: "actions currently in flight",
			},
		),
	}
}
