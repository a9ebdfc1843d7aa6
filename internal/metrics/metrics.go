// Package metrics declares the prometheus collectors mboxsync-server and
// mboxsync-client register, grounded on the teacher's own internal/metrics
// package: one package-level collector per concern, registered against the
// default registry at init, the counters and gauges bumped directly by the
// calling package rather than through a facade.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RecordsSent counts RECORD entries written to the wire by replica.Diff.
	RecordsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mboxsync",
		Subsystem: "replica",
		Name:      "records_sent_total",
		Help:      "Index records included in a diff's metadata batch.",
	}, []string{"mailbox"})

	// RecordsSkipped counts records Diff excluded per §4.E rule 1 (already
	// known to the remote by modseq).
	RecordsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mboxsync",
		Subsystem: "replica",
		Name:      "records_skipped_total",
		Help:      "Index records skipped because the remote already has them.",
	}, []string{"mailbox"})

	// BytesUploaded sums message payload bytes attached to a diff's upload
	// batch.
	BytesUploaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mboxsync",
		Subsystem: "replica",
		Name:      "bytes_uploaded_total",
		Help:      "Message payload bytes sent as File uploads.",
	}, []string{"partition"})

	// ReserveCacheHits counts GUIDs whose upload was suppressed because an
	// earlier mailbox in the same exchange already staged them
	// (SPEC_FULL.md §3.2).
	ReserveCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mboxsync",
		Subsystem: "replica",
		Name:      "reserve_cache_hits_total",
		Help:      "Payload uploads suppressed by cross-mailbox reserve-list dedup.",
	})

	// AnnotationWrites counts annotation.Store.Write calls issued by Merge.
	AnnotationWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mboxsync",
		Subsystem: "annotation",
		Name:      "writes_total",
		Help:      "Annotation store writes issued by the three-way merge.",
	}, []string{"bias"})

	// SieveMutations counts sieve.Dir Upload/Activate/Deactivate/Delete
	// calls.
	SieveMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mboxsync",
		Subsystem: "sieve",
		Name:      "mutations_total",
		Help:      "Sieve script file mutations applied to a user's script directory.",
	}, []string{"op"})

	// ReclaimableBytes gauges bytes occupied by stale sync_tmp-<pid> sieve
	// upload leftovers discovered at startup (§3.5).
	ReclaimableBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mboxsync",
		Subsystem: "sieve",
		Name:      "reclaimable_bytes",
		Help:      "Bytes occupied by stale sieve upload temp files found at startup.",
	})
)

func init() {
	prometheus.MustRegister(
		RecordsSent,
		RecordsSkipped,
		BytesUploaded,
		ReserveCacheHits,
		AnnotationWrites,
		SieveMutations,
		ReclaimableBytes,
	)
}
