package async

import (
	"sync"

	"github.com/geovex/mtclient"
	"go.uber.org/zap"
)

// Operation is the concrete PendingOperation. Work is an optional closure
// run by Start; operations that are driven externally (e.g. a connection
// attempt whose completion depends on transport callbacks rather than a
// function call) pass a nil Work and call SetFinished/SetFinishedWithError
// themselves once the real-world event happens.
type Operation struct {
	logger *zap.Logger
	loop   *Loop
	work   func(*Operation)

	mu       sync.Mutex
	started  bool
	finished bool
	failed   bool
	details  mtclient.ErrorDetails
	observers []mtclient.PendingOperationObserver
}

var _ mtclient.PendingOperation = &Operation{}

// New builds an Operation dispatched on loop. work may be nil.
func New(logger *zap.Logger, loop *Loop, work func(*Operation)) *Operation {
	return &Operation{
		logger: logger.Named("operation"),
		loop:   loop,
		work:   work,
	}
}

// Subscribe registers obs for this operation's terminal signal. If the
// operation has already finished, obs did not see OnSucceeded/OnFailed/
// OnFinished, so its terminal state is replayed on the loop's next turn
// rather than silently dropped — a late RunAfter bind in particular
// depends on this to still see a deferred (never synchronous) branch.
func (o *Operation) Subscribe(obs mtclient.PendingOperationObserver) {
	o.mu.Lock()
	if o.finished {
		failed := o.failed
		details := o.details
		o.mu.Unlock()
		o.loop.Post(func() { replayFinished(obs, failed, details) })
		return
	}
	o.observers = append(o.observers, obs)
	o.mu.Unlock()
}

func replayFinished(obs mtclient.PendingOperationObserver, failed bool, details mtclient.ErrorDetails) {
	if failed {
		obs.OnFailed(details)
	} else {
		obs.OnSucceeded()
	}
	obs.OnFinished()
}

// Start runs work synchronously, on the calling goroutine. If work is nil
// this is a no-op; the caller is expected to drive completion itself.
func (o *Operation) Start() {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		o.logger.Debug("start called on an already-started operation, ignored")
		return
	}
	o.started = true
	work := o.work
	o.mu.Unlock()
	if work != nil {
		work(o)
	}
}

// StartLater posts Start to the loop's next turn.
func (o *Operation) StartLater() {
	o.loop.Post(o.Start)
}

// SetFinished marks the operation done with whatever success state is
// currently staged (success unless SetFinishedWithError ran first).
// Re-invocation after the operation has already finished is a logged
// no-op, never a second signal emission.
func (o *Operation) SetFinished() {
	o.mu.Lock()
	if o.finished {
		o.mu.Unlock()
		o.logger.Debug("set-finished called on an already-finished operation, ignored")
		return
	}
	o.finished = true
	failed := o.failed
	details := o.details
	observers := append([]mtclient.PendingOperationObserver{}, o.observers...)
	o.mu.Unlock()

	for _, obs := range observers {
		if failed {
			obs.OnFailed(details)
		} else {
			obs.OnSucceeded()
		}
	}
	for _, obs := range observers {
		obs.OnFinished()
	}
}

// SetFinishedWithError stages failure and finishes immediately.
func (o *Operation) SetFinishedWithError(details mtclient.ErrorDetails) {
	o.mu.Lock()
	if o.finished {
		o.mu.Unlock()
		o.logger.Debug("set-finished-with-error called on an already-finished operation, ignored")
		return
	}
	if len(details) == 0 {
		details = mtclient.ErrorDetails{"reason": "unspecified"}
	}
	o.failed = true
	o.details = details
	o.mu.Unlock()
	o.SetFinished()
}

// SetDelayedFinishedWithError posts SetFinishedWithError to the loop's
// next turn.
func (o *Operation) SetDelayedFinishedWithError(details mtclient.ErrorDetails) {
	o.loop.Post(func() { o.SetFinishedWithError(details) })
}

// ClearResult resets the operation to unfinished. Only sub-operation
// machinery (an operation that gets retried in place rather than replaced)
// should call this.
func (o *Operation) ClearResult() {
	o.mu.Lock()
	o.started = false
	o.finished = false
	o.failed = false
	o.details = nil
	o.mu.Unlock()
}

// RunAfter binds this operation's start to prior's completion: prior
// succeeding starts this operation (on the next turn); prior failing
// finishes this one with the same details (also on the next turn). If
// prior has already finished by the time RunAfter is called, the
// appropriate branch is still deferred rather than run synchronously,
// preserving the invariant that Start/finish signals never fire from
// inside the call that established them.
func (o *Operation) RunAfter(prior mtclient.PendingOperation) {
	prior.Subscribe(&runAfterObserver{next: o})
}

type runAfterObserver struct {
	next *Operation
}

func (r *runAfterObserver) OnSucceeded() {
	r.next.loop.Post(r.next.succeedViaRunAfter)
}

func (r *runAfterObserver) OnFailed(details mtclient.ErrorDetails) {
	r.next.loop.Post(func() { r.next.SetFinishedWithError(details) })
}

func (r *runAfterObserver) OnFinished() {}

// succeedViaRunAfter starts the operation rather than marking it
// succeeded outright: RunAfter's contract is "prior succeeding starts
// this operation", not "prior succeeding finishes this operation".
func (o *Operation) succeedViaRunAfter() {
	o.Start()
}
