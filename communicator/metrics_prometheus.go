package communicator

import "github.com/prometheus/client_golang/prometheus"

const (
	labelRank      = "rank"
	labelSize      = "size"
	labelOperation = "operation"
	labelKind      = "kind"
)

var (
	baseLabelKeys       = []string{labelRank, labelSize}
	collectiveLabelKeys = []string{labelRank, labelSize, labelOperation}
	requestLabelKeys    = []string{labelRank, labelSize, labelKind}
)

// PrometheusMetricsOptions configures NewPrometheusMetrics.
type PrometheusMetricsOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

var _ MetricHook = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements MetricHook using Prometheus counters.
type PrometheusMetrics struct {
	collectivesCompleted *prometheus.CounterVec
	collectivesFailed    *prometheus.CounterVec
	requestsPosted       *prometheus.CounterVec
	requestsCompleted    *prometheus.CounterVec
	waitTimeouts         *prometheus.CounterVec
	streamAborts         *prometheus.CounterVec
}

// NewPrometheusMetrics constructs a MetricHook backed by Prometheus counters.
func NewPrometheusMetrics(opts PrometheusMetricsOptions) (*PrometheusMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &PrometheusMetrics{
		collectivesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "comms_collectives_completed_total",
			Help:        "Number of collective calls accepted by the transport",
			ConstLabels: opts.ConstLabels,
		}, collectiveLabelKeys),
		collectivesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "comms_collectives_failed_total",
			Help:        "Number of collective calls rejected by the transport",
			ConstLabels: opts.ConstLabels,
		}, collectiveLabelKeys),
		requestsPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "comms_requests_posted_total",
			Help:        "Number of point-to-point requests issued",
			ConstLabels: opts.ConstLabels,
		}, requestLabelKeys),
		requestsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "comms_requests_completed_total",
			Help:        "Number of point-to-point requests observed complete",
			ConstLabels: opts.ConstLabels,
		}, requestLabelKeys),
		waitTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "comms_wait_timeouts_total",
			Help:        "Number of WaitAll calls that hit the stall threshold",
			ConstLabels: opts.ConstLabels,
		}, baseLabelKeys),
		streamAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "comms_stream_aborts_total",
			Help:        "Number of collective engine aborts triggered by asynchronous faults",
			ConstLabels: opts.ConstLabels,
		}, baseLabelKeys),
	}

	var err error
	if p.collectivesCompleted, err = registerCounterVec(reg, p.collectivesCompleted); err != nil {
		return nil, err
	}
	if p.collectivesFailed, err = registerCounterVec(reg, p.collectivesFailed); err != nil {
		return nil, err
	}
	if p.requestsPosted, err = registerCounterVec(reg, p.requestsPosted); err != nil {
		return nil, err
	}
	if p.requestsCompleted, err = registerCounterVec(reg, p.requestsCompleted); err != nil {
		return nil, err
	}
	if p.waitTimeouts, err = registerCounterVec(reg, p.waitTimeouts); err != nil {
		return nil, err
	}
	if p.streamAborts, err = registerCounterVec(reg, p.streamAborts); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *PrometheusMetrics) CollectiveCompleted(attrs map[string]string) {
	p.collectivesCompleted.With(labels(attrs, collectiveLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) CollectiveFailed(_ error, attrs map[string]string) {
	p.collectivesFailed.With(labels(attrs, collectiveLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) RequestPosted(attrs map[string]string) {
	p.requestsPosted.With(labels(attrs, requestLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) RequestCompleted(attrs map[string]string) {
	p.requestsCompleted.With(labels(attrs, requestLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) WaitTimedOut(attrs map[string]string) {
	p.waitTimeouts.With(labels(attrs, baseLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) StreamAborted(attrs map[string]string) {
	p.streamAborts.With(labels(attrs, baseLabelKeys...)).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}

func labels(attrs map[string]string, keys ...string) prometheus.Labels {
	labs := make(prometheus.Labels, len(keys))
	for _, key := range keys {
		labs[key] = attrs[key]
	}
	return labs
}
