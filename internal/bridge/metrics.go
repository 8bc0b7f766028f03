package bridge

import (
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
)

var (
    gaugeCallsActive = promauto.NewGauge(prometheus.GaugeOpts{
        Name: "bridge_calls_active",
        Help: "Calls currently bridged",
    })

    metricCalls = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "bridge_calls_total",
        Help: "Calls ended, by teardown reason",
    }, []string{"reason"})

    metricAudioFrames = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "bridge_audio_frames_total",
        Help: "Audio frames relayed",
    }, []string{"direction"}) // to_model, to_telephony

    metricAudioDrops = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "bridge_audio_drops_total",
        Help: "Audio frames dropped due to a full outbound queue",
    }, []string{"direction"})

    metricPreModelDrops = promauto.NewCounter(prometheus.CounterOpts{
        Name: "bridge_premodel_drops_total",
        Help: "Caller audio frames dropped before the model channel was open",
    })

    metricTruncations = promauto.NewCounter(prometheus.CounterOpts{
        Name: "bridge_truncations_total",
        Help: "Assistant turns truncated by caller barge-in",
    })

    metricTruncatedMS = promauto.NewHistogram(prometheus.HistogramOpts{
        Name:    "bridge_truncated_audio_end_ms",
        Help:    "Audio heard by the caller before barge-in (ms)",
        Buckets: prometheus.ExponentialBuckets(50, 1.8, 10),
    })

    metricToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "bridge_tool_calls_total",
        Help: "Tool calls requested by the model",
    }, []string{"name", "outcome"})

    metricParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "bridge_parse_errors_total",
        Help: "Inbound messages dropped as unparseable",
    }, []string{"channel"})

    metricUpstreamErrors = promauto.NewCounter(prometheus.CounterOpts{
        Name: "bridge_upstream_errors_total",
        Help: "Error events reported by the voice model",
    })

    metricModelConnectMS = promauto.NewHistogram(prometheus.HistogramOpts{
        Name:    "bridge_model_connect_ms",
        Help:    "Time to open the model channel (ms)",
        Buckets: prometheus.ExponentialBuckets(10, 1.8, 10),
    })

    metricRejected = promauto.NewCounter(prometheus.CounterOpts{
        Name: "bridge_calls_rejected_total",
        Help: "Calls refused at admission",
    })
)
