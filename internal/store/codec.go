package store

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

// encMode encodes snapshots with Core Deterministic Encoding so identical
// snapshots always produce identical bytes. Times keep nanoseconds and
// offsets by encoding as RFC 3339 text.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeSnapshot(s flight.Snapshot) ([]byte, error) {
	return encMode.Marshal(s)
}

func decodeSnapshot(data []byte) (flight.Snapshot, error) {
	var s flight.Snapshot
	err := decMode.Unmarshal(data, &s)
	return s, err
}
