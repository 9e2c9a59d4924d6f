package client

import (
	"context"

	"github.com/Sternrassler/giffun-client/pkg/loop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var callbacksDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "giffun_callbacks_dropped_total",
	Help: "Callbacks not delivered because their loop had stopped",
})

// Callback receives the outcome of an enqueued call. Exactly one of its
// methods is called, once.
type Callback interface {
	OnResponse(env *Envelope)
	OnFailure(err error)
}

// CallbackFuncs adapts two functions to Callback. Nil functions are skipped.
type CallbackFuncs struct {
	Response func(env *Envelope)
	Failure  func(err error)
}

func (f CallbackFuncs) OnResponse(env *Envelope) {
	if f.Response != nil {
		f.Response(env)
	}
}

func (f CallbackFuncs) OnFailure(err error) {
	if f.Failure != nil {
		f.Failure(err)
	}
}

// Enqueue runs r in the background and delivers the outcome to cb through
// poster. With a nil poster cb runs on the background goroutine. If the
// poster has stopped the outcome is dropped.
func (c *Client) Enqueue(ctx context.Context, r Request, poster loop.Poster, cb Callback) {
	go func() {
		env, err := c.Call(ctx, r)
		deliver := func() {
			if err != nil {
				cb.OnFailure(err)
				return
			}
			cb.OnResponse(env)
		}

		if poster == nil {
			deliver()
			return
		}
		if !poster.Post(deliver) {
			callbacksDropped.Inc()
			c.logger.Debug().Str("endpoint", r.Path).Msg("Loop stopped, dropping callback")
		}
	}()
}
