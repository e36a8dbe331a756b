package myaudio

// Callbacks receive data from a capture Device. Data is invoked on the
// backend's audio thread with interleaved signed 16-bit little-endian PCM and
// must not block. Fail is invoked when the device stops without being asked
// to.
type Callbacks struct {
	Data func(pcm []byte)
	Fail func(err error)
}

// Device is a capture backend producing 16 kHz mono S16 audio.
type Device interface {
	// Open acquires the device. The device is not delivering data yet.
	Open(cb Callbacks) error
	// Start begins data delivery.
	Start() error
	// Stop halts data delivery, keeping the device acquired.
	Stop() error
	// Close releases the device.
	Close() error
	// Name returns a human readable device name, valid after Open.
	Name() string
}
