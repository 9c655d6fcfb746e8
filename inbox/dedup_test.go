package inbox

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/hotaru-social/hotaru/types"
)

type fakeLedger struct {
	seen map[string]bool
	err  error
}

func (f *fakeLedger) RecordIfNew(ctx context.Context, activityID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen[activityID] {
		return false, nil
	}
	f.seen[activityID] = true
	return true, nil
}

func TestFirstSighting(t *testing.T) {
	deduper := NewDeduper(&fakeLedger{seen: map[string]bool{}})
	activity := &types.Activity{ID: "https://remote.example/activities/1"}

	assert.True(t, deduper.FirstSighting(context.Background(), activity))
	assert.False(t, deduper.FirstSighting(context.Background(), activity))
}

func TestFirstSightingWithoutID(t *testing.T) {
	// No id means no replay protection, never a rejection.
	deduper := NewDeduper(&fakeLedger{seen: map[string]bool{}})
	activity := &types.Activity{}

	assert.True(t, deduper.FirstSighting(context.Background(), activity))
	assert.True(t, deduper.FirstSighting(context.Background(), activity))
}

func TestFirstSightingFailsOpen(t *testing.T) {
	deduper := NewDeduper(&fakeLedger{err: errors.New("connection refused")})
	activity := &types.Activity{ID: "https://remote.example/activities/1"}

	assert.True(t, deduper.FirstSighting(context.Background(), activity))
}
