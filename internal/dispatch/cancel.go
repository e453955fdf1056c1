package dispatch

import "context"

// Cancel withdraws a request. A queued request is removed with no side effects;
// for a dispatched one the engine context is canceled and the request becomes
// Cancelled only if the engine gives up before producing a result.
func (d *Dispatcher) Cancel(id string) (CancelOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.live[id]
	if !ok {
		if _, finished := d.done[id]; finished {
			return "", ErrRequestFinished
		}
		return "", ErrRequestNotFound
	}
	if r.state == StateQueued {
		d.removeQueuedLocked(r)
		d.finishLocked(r, StateCancelled, r.artifact, ErrCancelled, d.now())
		d.signal()
		return CancelledQueued, nil
	}
	r.cancelReq = true
	if r.cancel != nil {
		r.cancel()
	}
	return CancelRequestedDispatched, nil
}

func (d *Dispatcher) removeQueuedLocked(r *request) {
	for i, q := range d.queue {
		if q == r {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			break
		}
	}
	queueDepth.Set(float64(len(d.queue)))
}

// Shutdown stops admission, cancels every queued request and waits for running
// executions. If ctx expires first the executions are canceled and ctx.Err is
// returned once they have returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		d.waitLoop()
		return nil
	}
	d.closing = true
	now := d.now()
	for _, r := range d.queue {
		d.finishLocked(r, StateCancelled, r.artifact, ErrCancelled, now)
	}
	d.queue = nil
	queueDepth.Set(0)
	close(d.stop)
	d.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(idle)
	}()
	var err error
	select {
	case <-idle:
	case <-ctx.Done():
		err = ctx.Err()
		d.baseCancel()
		<-idle
	}
	d.baseCancel()
	d.waitLoop()
	return err
}

func (d *Dispatcher) waitLoop() {
	if d.running {
		<-d.loopDone
	}
}
