package errors

// Sentinel errors shared by the detection pipeline. Wrap them with %w and
// match with errors.Is.
var (
	// ErrDeviceUnavailable means the capture device could not be opened
	// (missing, busy or permission denied).
	ErrDeviceUnavailable = NewStd("audio capture device unavailable")

	// ErrCapture is a read failure on a running capture device.
	ErrCapture = NewStd("audio capture failed")

	// ErrClassification is a classifier failure for one window.
	ErrClassification = NewStd("classification failed")

	// ErrPersistence is a record store failure.
	ErrPersistence = NewStd("persistence failed")

	// ErrPlugin is an enrichment plugin failure.
	ErrPlugin = NewStd("enrichment plugin failed")
)
