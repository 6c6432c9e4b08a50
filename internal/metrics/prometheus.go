package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesReadTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voucherscan_frames_read_total",
		Help: "Total number of frames decoded from video sources",
	})

	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voucherscan_frames_sampled_total",
		Help: "Total number of frames dispatched for recognition",
	})

	FrameFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voucherscan_frame_failures_total",
		Help: "Sampled frames that produced no result, by failing stage",
	}, []string{"stage"})

	CodesFoundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voucherscan_codes_found_total",
		Help: "Distinct candidate codes found across all scans",
	})

	RecognizeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voucherscan_recognize_duration_seconds",
		Help:    "Latency of text-recognition calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"outcome"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voucherscan_active_workers",
		Help: "Number of frame workers currently processing a frame",
	})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voucherscan_scan_duration_seconds",
		Help:    "Duration of scan stages",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})
)
