package metrics

// Values of the status label.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Values of the operation label on blob and document metrics.
const (
	OpPut     = "put"
	OpDelete  = "delete"
	OpSet     = "set"
	OpPublish = "publish"
)

// Exponential histogram layouts, see prometheus.ExponentialBuckets.
const (
	BucketStart1ms   = 0.001
	BucketStart10ms  = 0.01
	BucketStart100ms = 0.1
	BucketStart64B   = 64.0
	BucketFactor2    = 2
	BucketCount10    = 10
	BucketCount12    = 12
)
