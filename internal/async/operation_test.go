package async

import (
	"context"
	"testing"
	"time"

	"github.com/geovex/mtclient"
	"go.uber.org/zap"
)

type capturingObserver struct {
	succeeded bool
	failed    bool
	finished  bool
	details   mtclient.ErrorDetails
}

func (c *capturingObserver) OnSucceeded()                          { c.succeeded = true }
func (c *capturingObserver) OnFailed(details mtclient.ErrorDetails) { c.failed = true; c.details = details }
func (c *capturingObserver) OnFinished()                            { c.finished = true }

func TestOperationSucceedsAndFinishesExactlyOnce(t *testing.T) {
	loop := NewLoop()
	op := New(zap.NewNop(), loop, func(o *Operation) { o.SetFinished() })
	obs := &capturingObserver{}
	op.Subscribe(obs)
	op.Start()

	if !obs.succeeded || obs.failed || !obs.finished {
		t.Fatalf("expected succeeded+finished, got succeeded=%v failed=%v finished=%v", obs.succeeded, obs.failed, obs.finished)
	}

	obs.finished = false
	op.SetFinished()
	if obs.finished {
		t.Fatalf("expected re-invocation of SetFinished to be a no-op")
	}
}

func TestOperationFailsWithDetails(t *testing.T) {
	loop := NewLoop()
	op := New(zap.NewNop(), loop, func(o *Operation) {
		o.SetFinishedWithError(mtclient.ErrorDetails{"reason": "boom"})
	})
	obs := &capturingObserver{}
	op.Subscribe(obs)
	op.Start()

	if obs.succeeded || !obs.failed || !obs.finished {
		t.Fatalf("expected failed+finished, got succeeded=%v failed=%v finished=%v", obs.succeeded, obs.failed, obs.finished)
	}
	if obs.details["reason"] != "boom" {
		t.Fatalf("expected details to carry the failure reason, got %v", obs.details)
	}
}

func TestOperationStartLaterRunsOnLoop(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	ran := make(chan struct{}, 1)
	op := New(zap.NewNop(), loop, func(o *Operation) {
		ran <- struct{}{}
		o.SetFinished()
	})
	op.StartLater()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deferred Start to run")
	}
}

func TestRunAfterStartsOnPriorSuccess(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	prior := New(zap.NewNop(), loop, func(o *Operation) { o.SetFinished() })

	started := make(chan struct{}, 1)
	next := New(zap.NewNop(), loop, func(o *Operation) {
		started <- struct{}{}
		o.SetFinished()
	})
	next.RunAfter(prior)
	prior.Start()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RunAfter to start the dependent operation")
	}
}

func TestRunAfterPropagatesPriorFailure(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	prior := New(zap.NewNop(), loop, func(o *Operation) {
		o.SetFinishedWithError(mtclient.ErrorDetails{"reason": "prior failed"})
	})
	next := New(zap.NewNop(), loop, nil)
	obs := &capturingObserver{}
	next.Subscribe(obs)
	next.RunAfter(prior)
	prior.Start()

	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for propagated failure")
		default:
		}
		if obs.finished {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !obs.failed {
		t.Fatalf("expected the dependent operation to fail")
	}
	if obs.details["reason"] != "prior failed" {
		t.Fatalf("expected details to propagate from prior, got %v", obs.details)
	}
}
