package reminder

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = time.Minute
)

// Worker polls a Queue for due reminders and hands them to a Sender.
type Worker struct {
	queue       Queue
	sender      Sender
	interval    time.Duration
	batchSize   int
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
	stopChan    chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
}

func NewWorker(queue Queue, sender Sender, interval time.Duration, batchSize int) *Worker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Worker{
		queue:       queue,
		sender:      sender,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		now:         time.Now,
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// SetRetryPolicy overrides how failed deliveries are retried.
func (w *Worker) SetRetryPolicy(maxAttempts int, delay time.Duration) {
	w.maxAttempts = maxAttempts
	w.retryDelay = delay
}

// Start runs the delivery loop until Stop is called or ctx ends.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)
	log.Printf("Starting reminder worker (interval: %v)", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-w.stopChan:
			log.Println("Stopping reminder worker")
			return
		case <-ctx.Done():
			log.Println("Stopping reminder worker")
			return
		}
	}
}

// Stop ends the loop and waits for the in-flight poll to finish. It is safe
// to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.done
}

// RunOnce claims every due reminder and delivers it. It returns the number
// delivered successfully.
func (w *Worker) RunOnce(ctx context.Context) int {
	due, err := w.queue.Due(ctx, w.now(), w.batchSize)
	if err != nil {
		log.Printf("Error claiming due reminders: %v", err)
		return 0
	}

	sent := 0
	for _, req := range due {
		if err := w.sender.Send(ctx, req); err != nil {
			w.retry(ctx, req, err)
			continue
		}
		sent++
	}

	if sent > 0 {
		log.Printf("Delivered %d maintenance reminders", sent)
	}
	return sent
}

func (w *Worker) retry(ctx context.Context, req Request, cause error) {
	req.Attempts++
	if req.Attempts >= w.maxAttempts {
		log.Printf("Giving up on reminder %s after %d attempts: %v", req.Key, req.Attempts, cause)
		return
	}

	req.FireNow = false
	req.FireAt = w.now().Add(w.retryDelay * time.Duration(req.Attempts))
	stored, err := w.queue.Requeue(ctx, req)
	if err != nil {
		log.Printf("Error requeueing reminder %s: %v", req.Key, err)
		return
	}
	if !stored {
		log.Printf("Reminder %s changed while it was being delivered, dropping the retry", req.Key)
		return
	}
	log.Printf("Reminder %s delivery failed (%v), retrying at %s", req.Key, cause, req.FireAt.Format(time.RFC3339))
}
