package inbox

import (
	"context"
	"log"

	"github.com/hotaru-social/hotaru/types"
)

// Ledger is the write-once record of processed activity ids.
type Ledger interface {
	RecordIfNew(ctx context.Context, activityID string) (bool, error)
}

// Deduper gates handler dispatch to at most once per activity id. Peers
// deliver at least once; the ledger makes the side effects at most once.
type Deduper struct {
	ledger Ledger
}

func NewDeduper(ledger Ledger) *Deduper {
	return &Deduper{ledger: ledger}
}

// FirstSighting records the activity id and reports whether it was new.
// An absent id disables the guard for that activity: the envelope is
// processed as if first seen. Ledger errors are logged and fail open so a
// storage hiccup never drops an activity.
func (d *Deduper) FirstSighting(ctx context.Context, activity *types.Activity) bool {
	if activity.ID == "" {
		return true
	}

	first, err := d.ledger.RecordIfNew(ctx, activity.ID)
	if err != nil {
		log.Printf("inbox: dedup ledger %s: %v", activity.ID, err)
		return true
	}
	return first
}
