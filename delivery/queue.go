package delivery

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/hotaru-social/hotaru/apclient"
	"github.com/hotaru-social/hotaru/types"
)

var tracer = otel.Tracer("delivery")

// Priority orders delivery jobs. Workers always drain a higher tier before
// touching a lower one, so a backlog of bulk fanout never delays an Accept.
type Priority int

const (
	PriorityUrgent Priority = iota // protocol replies: Accept, Reject
	PriorityNormal                 // fresh user-initiated activities
	PriorityLow                    // edits, profile updates
	PriorityBulk                   // wide fanout, resumed backlogs
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBulk:
		return "bulk"
	}
	return "unknown"
}

// Job is one signed POST to one inbox. The serialized activity is frozen at
// enqueue time; retries resend identical bytes.
type Job struct {
	ID            string
	InboxURL      string
	Activity      []byte
	KeyID         string
	PrivateKey    *rsa.PrivateKey
	SignerID      string
	Priority      Priority
	AttemptCount  int
	NextAttemptAt time.Time
}

// Poster performs the signed inbox POST.
type Poster interface {
	PostToInbox(ctx context.Context, inbox string, body []byte, signer apclient.Signer) error
}

// RecordStore persists jobs across restarts. Nil disables persistence.
type RecordStore interface {
	SaveDelivery(ctx context.Context, record types.DeliveryRecord) error
	DeleteDelivery(ctx context.Context, id string) error
	ListPendingDeliveries(ctx context.Context) ([]types.DeliveryRecord, error)
}

// KeyLoader rehydrates a signing key from the signer's account row; private
// keys are never written to the delivery table.
type KeyLoader interface {
	LoadSignerKey(ctx context.Context, signerID string) (*rsa.PrivateKey, error)
}

const (
	maxAttempts   = 8
	queueCapacity = 1024
)

// Queue is the prioritized retry queue. Enqueue persists the job and hands it
// to one of the worker goroutines; jobs leave the store only on success,
// permanent rejection or attempt exhaustion.
type Queue struct {
	client  Poster
	records RecordStore
	keys    KeyLoader

	channels [4]chan *Job
	workers  int

	mu       sync.Mutex
	inflight map[string]bool

	// baseBackoff is the first retry delay; each further attempt doubles it.
	baseBackoff time.Duration
	// reloadInterval paces the sweep that re-offers persisted jobs which are
	// not held in memory, closing the gap left by full channels.
	reloadInterval time.Duration
}

func NewQueue(client Poster, records RecordStore, keys KeyLoader, workers int) *Queue {
	q := &Queue{
		client:         client,
		records:        records,
		keys:           keys,
		workers:        workers,
		inflight:       map[string]bool{},
		baseBackoff:    30 * time.Second,
		reloadInterval: time.Minute,
	}
	for i := range q.channels {
		q.channels[i] = make(chan *Job, queueCapacity)
	}
	return q
}

// Start launches the workers and the reload loop that resumes jobs persisted
// by a previous process. It returns immediately; everything stops when ctx is
// canceled.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		go q.work(ctx)
	}
	go q.reloadLoop(ctx)
}

// Enqueue persists the job and routes it toward the workers without blocking.
// When every channel slot is taken the job stays persisted and is picked up
// by the next reload sweep; the caller is never stalled by a slow peer.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	q.mu.Lock()
	q.inflight[job.ID] = true
	q.mu.Unlock()

	if q.records != nil {
		record := types.DeliveryRecord{
			ID:            job.ID,
			InboxURL:      job.InboxURL,
			KeyID:         job.KeyID,
			SignerID:      job.SignerID,
			Activity:      job.Activity,
			Priority:      int(job.Priority),
			AttemptCount:  job.AttemptCount,
			NextAttemptAt: job.NextAttemptAt,
			CreatedAt:     time.Now(),
		}
		if err := q.records.SaveDelivery(ctx, record); err != nil {
			q.clearInflight(job.ID)
			return errors.Wrap(err, "persist delivery")
		}
	}

	q.schedule(job)
	return nil
}

// schedule routes a job toward the workers. A job whose attempt time has not
// arrived waits on a timer, not in a worker: a sleeping retry must never hold
// a slot that another destination could be using.
func (q *Queue) schedule(job *Job) {
	q.mu.Lock()
	q.inflight[job.ID] = true
	q.mu.Unlock()

	if wait := time.Until(job.NextAttemptAt); wait > 0 {
		time.AfterFunc(wait, func() { q.offer(job) })
		return
	}
	q.offer(job)
}

func (q *Queue) offer(job *Job) {
	select {
	case q.channels[job.Priority] <- job:
	default:
		// Shed from memory; the persisted record brings it back on the next
		// reload sweep.
		q.clearInflight(job.ID)
		log.Printf("delivery: %s queue full, %s deferred to reload", job.Priority, job.InboxURL)
	}
}

func (q *Queue) clearInflight(id string) {
	q.mu.Lock()
	delete(q.inflight, id)
	q.mu.Unlock()
}

// take returns the next job, always preferring the highest non-empty tier.
func (q *Queue) take(ctx context.Context) (*Job, bool) {
	for {
		for _, ch := range q.channels {
			select {
			case job := <-ch:
				return job, true
			default:
			}
		}
		select {
		case <-ctx.Done():
			return nil, false
		case job := <-q.channels[PriorityUrgent]:
			return job, true
		case job := <-q.channels[PriorityNormal]:
			return job, true
		case job := <-q.channels[PriorityLow]:
			return job, true
		case job := <-q.channels[PriorityBulk]:
			return job, true
		}
	}
}

func (q *Queue) work(ctx context.Context) {
	for {
		job, alive := q.take(ctx)
		if !alive {
			return
		}
		q.attempt(ctx, job)
	}
}

// attempt performs one signed POST and decides the job's fate: done,
// permanently rejected, rescheduled, or abandoned after the attempt budget.
func (q *Queue) attempt(ctx context.Context, job *Job) {
	ctx, span := tracer.Start(ctx, "DeliveryAttempt")
	defer span.End()

	err := q.client.PostToInbox(ctx, job.InboxURL, job.Activity, apclient.Signer{
		KeyID:      job.KeyID,
		PrivateKey: job.PrivateKey,
	})
	if err == nil {
		q.finish(ctx, job.ID)
		return
	}
	span.RecordError(err)

	if errors.Is(err, apclient.ErrPermanentDelivery) {
		log.Printf("delivery: %s rejected permanently: %v", job.InboxURL, err)
		q.finish(ctx, job.ID)
		return
	}

	job.AttemptCount++
	if job.AttemptCount >= maxAttempts {
		log.Printf("delivery: %s abandoned after %d attempts: %v", job.InboxURL, job.AttemptCount, err)
		q.finish(ctx, job.ID)
		return
	}

	backoff := q.baseBackoff << (job.AttemptCount - 1)
	job.NextAttemptAt = time.Now().Add(backoff)
	log.Printf("delivery: %s attempt %d failed, retrying in %s: %v",
		job.InboxURL, job.AttemptCount, backoff, err)

	if q.records != nil {
		record := types.DeliveryRecord{
			ID:            job.ID,
			InboxURL:      job.InboxURL,
			KeyID:         job.KeyID,
			SignerID:      job.SignerID,
			Activity:      job.Activity,
			Priority:      int(job.Priority),
			AttemptCount:  job.AttemptCount,
			NextAttemptAt: job.NextAttemptAt,
		}
		if err := q.records.SaveDelivery(ctx, record); err != nil {
			log.Printf("delivery: persist retry state %s: %v", job.ID, err)
		}
	}

	q.schedule(job)
}

func (q *Queue) finish(ctx context.Context, id string) {
	q.clearInflight(id)
	if q.records == nil {
		return
	}
	if err := q.records.DeleteDelivery(ctx, id); err != nil {
		log.Printf("delivery: clear record %s: %v", id, err)
	}
}

// reloadLoop sweeps the persisted records: once at startup for restart
// recovery, then periodically so jobs shed when a channel was full get back
// in line without waiting for a restart.
func (q *Queue) reloadLoop(ctx context.Context) {
	if q.records == nil {
		return
	}

	q.reload(ctx)

	ticker := time.NewTicker(q.reloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.reload(ctx)
		}
	}
}

// reload re-offers every persisted job not currently held in memory,
// rehydrating each signing key from the signer's account. Jobs whose signer
// has disappeared are dropped.
func (q *Queue) reload(ctx context.Context) {
	pending, err := q.records.ListPendingDeliveries(ctx)
	if err != nil {
		log.Printf("delivery: reload: %v", err)
		return
	}

	resumed := 0
	for _, record := range pending {
		q.mu.Lock()
		held := q.inflight[record.ID]
		q.mu.Unlock()
		if held {
			continue
		}

		key, err := q.keys.LoadSignerKey(ctx, record.SignerID)
		if err != nil {
			log.Printf("delivery: reload %s: signer %s key: %v", record.ID, record.SignerID, err)
			q.finish(ctx, record.ID)
			continue
		}
		q.schedule(&Job{
			ID:            record.ID,
			InboxURL:      record.InboxURL,
			Activity:      record.Activity,
			KeyID:         record.KeyID,
			PrivateKey:    key,
			SignerID:      record.SignerID,
			Priority:      Priority(record.Priority),
			AttemptCount:  record.AttemptCount,
			NextAttemptAt: record.NextAttemptAt,
		})
		resumed++
	}

	if resumed > 0 {
		log.Printf("delivery: reloaded %d pending jobs", resumed)
	}
}

// marshalActivity freezes an activity for the queue.
func marshalActivity(activity *types.Activity) ([]byte, error) {
	raw, err := json.Marshal(activity)
	if err != nil {
		return nil, errors.Wrap(err, "marshal activity")
	}
	return raw, nil
}
