package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

// Process-wide counters exposed in text exposition format on /metrics.
// Atomic counters keep the hot paths allocation-free.
var (
	historyQueries  uint64
	mutations       uint64
	classifications uint64
	recommendations uint64
	cacheHits       uint64
	cacheMisses     uint64
	auditFailures   uint64
)

func IncHistoryQueries()  { atomic.AddUint64(&historyQueries, 1) }
func IncMutations()       { atomic.AddUint64(&mutations, 1) }
func IncClassifications() { atomic.AddUint64(&classifications, 1) }
func IncRecommendations() { atomic.AddUint64(&recommendations, 1) }
func IncCacheHits()       { atomic.AddUint64(&cacheHits, 1) }
func IncCacheMisses()     { atomic.AddUint64(&cacheMisses, 1) }
func IncAuditFailures()   { atomic.AddUint64(&auditFailures, 1) }

// Handler serves the counters in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		write := func(name string, value uint64) {
			fmt.Fprintf(w, "# TYPE %s counter\n%s %d\n", name, name, value)
		}
		write("cdss_history_queries_total", atomic.LoadUint64(&historyQueries))
		write("cdss_mutations_total", atomic.LoadUint64(&mutations))
		write("cdss_classifications_total", atomic.LoadUint64(&classifications))
		write("cdss_recommendations_total", atomic.LoadUint64(&recommendations))
		write("cdss_state_cache_hits_total", atomic.LoadUint64(&cacheHits))
		write("cdss_state_cache_misses_total", atomic.LoadUint64(&cacheMisses))
		write("cdss_audit_failures_total", atomic.LoadUint64(&auditFailures))
	})
}
