package poller

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jpalmerr/flightwatch/internal/flight"
)

// FeedDecoder turns a feed response body into snapshots.
type FeedDecoder func(body []byte) ([]flight.Snapshot, error)

// DecodeSnapshots is the default [FeedDecoder]. It accepts either a JSON
// array of snapshots or an object whose "flights" member is one.
func DecodeSnapshots(body []byte) ([]flight.Snapshot, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty feed body")
	}

	if trimmed[0] == '{' {
		var envelope struct {
			Flights []flight.Snapshot `json:"flights"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("decoding feed object: %w", err)
		}
		return envelope.Flights, nil
	}

	var snaps []flight.Snapshot
	if err := json.Unmarshal(trimmed, &snaps); err != nil {
		return nil, fmt.Errorf("decoding feed array: %w", err)
	}
	return snaps, nil
}
