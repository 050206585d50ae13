package remote

// Metrics observes remote backend traffic. Implementations are optional;
// every helper below nil-checks before calling through.
type Metrics interface {
	ObserveFetch(bytes int64)
	ObserveUpload(bytes int64)
	RecordFetchError()
	RecordUploadError()
}

func recordFetch(m Metrics, bytes int64) {
	if m == nil {
		return
	}
	m.ObserveFetch(bytes)
}

func recordUpload(m Metrics, bytes int64) {
	if m == nil {
		return
	}
	m.ObserveUpload(bytes)
}

func recordFetchError(m Metrics) {
	if m == nil {
		return
	}
	m.RecordFetchError()
}

func recordUploadError(m Metrics) {
	if m == nil {
		return
	}
	m.RecordUploadError()
}
