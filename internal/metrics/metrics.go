package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinic"

// Collectors 보드 협업 Prometheus 지표 모음
//
// All methods are safe to call on a nil *Collectors, which records nothing.
type Collectors struct {
	gatherer prometheus.Gatherer

	activeRooms       prometheus.Gauge
	activeConnections prometheus.Gauge
	cachedBoards      prometheus.Gauge
	joinsTotal        prometheus.Counter
	broadcastsTotal   prometheus.Counter
	droppedFrames     prometheus.Counter
	evictionsTotal    prometheus.Counter
	savesTotal        *prometheus.CounterVec
	saveGuardSkips    prometheus.Counter
}

// New 지정된 레지스트리에 지표 등록
func New(reg *prometheus.Registry) *Collectors {
	factory := promauto.With(reg)

	return &Collectors{
		gatherer: reg,

		activeRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "active_rooms",
			Help:      "Number of boards with at least one joined connection",
		}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "active_connections",
			Help:      "Number of connections joined to a board room",
		}),
		cachedBoards: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "cached_boards",
			Help:      "Number of boards held in the live element cache",
		}),
		joinsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "joins_total",
			Help:      "Total number of board room joins",
		}),
		broadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "element_broadcasts_total",
			Help:      "Total number of merged element snapshots broadcast to rooms",
		}),
		droppedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "dropped_frames_total",
			Help:      "Frames dropped because a connection's send queue was full or closed",
		}),
		evictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "cache_evictions_total",
			Help:      "Total number of board cache entries evicted after the grace period",
		}),
		savesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "saves_total",
			Help:      "Board element saves by result",
		}, []string{"result"}),
		saveGuardSkips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "save_guard_skips_total",
			Help:      "Saves whose empty element payload was ignored to protect existing elements",
		}),
	}
}

// SetLive 룸/연결/캐시 게이지 갱신
func (c *Collectors) SetLive(rooms, connections, cached int) {
	if c == nil {
		return
	}
	c.activeRooms.Set(float64(rooms))
	c.activeConnections.Set(float64(connections))
	c.cachedBoards.Set(float64(cached))
}

func (c *Collectors) Join() {
	if c == nil {
		return
	}
	c.joinsTotal.Inc()
}

func (c *Collectors) Broadcast() {
	if c == nil {
		return
	}
	c.broadcastsTotal.Inc()
}

func (c *Collectors) Dropped() {
	if c == nil {
		return
	}
	c.droppedFrames.Inc()
}

func (c *Collectors) Evicted() {
	if c == nil {
		return
	}
	c.evictionsTotal.Inc()
}

// Save 저장 결과 기록 (ok, guarded, not_found, forbidden, invalid, error)
func (c *Collectors) Save(result string) {
	if c == nil {
		return
	}
	c.savesTotal.WithLabelValues(result).Inc()
}

func (c *Collectors) GuardSkip() {
	if c == nil {
		return
	}
	c.saveGuardSkips.Inc()
}

// Handler /metrics 엔드포인트 핸들러
func (c *Collectors) Handler() fiber.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
