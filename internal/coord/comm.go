// Package coord distributes values from the coordinating worker (rank 0) to
// every other worker of a lock-step run.
package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Root is the rank of the coordinating worker.
const Root = 0

// Communicator is a group of workers that synchronise through blocking
// broadcasts. Every worker must issue the same sequence of Broadcast calls;
// a worker that skips one stalls the others.
type Communicator interface {
	// Rank identifies this worker, 0 is the coordinator.
	Rank() int
	// Size is the number of workers in the group.
	Size() int
	// Broadcast sends v from the coordinator to all workers. On the
	// coordinator v is read; on other workers v must be a pointer and is
	// overwritten. The coordinator returns once every worker has taken
	// the value.
	Broadcast(ctx context.Context, v any) error
	// Close releases transport resources.
	Close() error
}

// ErrSequence is returned when a worker receives a broadcast out of order.
var ErrSequence = errors.New("broadcast sequence mismatch")

// frame is one broadcast on the wire.
type frame struct {
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

func encodeFrame(seq uint64, v any) (frame, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return frame{}, fmt.Errorf("failed to encode broadcast: %w", err)
	}
	return frame{Seq: seq, Payload: payload}, nil
}

func decodeFrame(f frame, seq uint64, v any) error {
	if f.Seq != seq {
		return fmt.Errorf("%w: expected %d, got %d", ErrSequence, seq, f.Seq)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("failed to decode broadcast: %w", err)
	}
	return nil
}

type solo struct{}

// Solo returns the communicator of a single-worker run. Broadcast is a no-op.
func Solo() Communicator { return solo{} }

func (solo) Rank() int { return Root }

func (solo) Size() int { return 1 }

func (solo) Broadcast(_ context.Context, _ any) error { return nil }

func (solo) Close() error { return nil }
