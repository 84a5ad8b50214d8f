// Package pin makes the local daemon retain and advertise content (seed it)
// and releases it again.
//
// Pinning a single identifier is a hard operation: its error is returned.
// Unpinning is best effort and never returns an error; failures go to the
// log only, because by the time content is released the local copy has
// already been removed. Batches fan out concurrently and report a Result per
// identifier instead of failing as a whole.
package pin

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/iter"

	"xdao.co/gamex/kubo"
)

// Result is the outcome for one identifier of a batch.
type Result struct {
	Identifier string
	Err        error
}

func (r Result) OK() bool { return r.Err == nil }

type Manager struct {
	client *kubo.Client
	log    logrus.FieldLogger
}

func New(client *kubo.Client) *Manager {
	return &Manager{client: client, log: client.Logger()}
}

// Pin asks the daemon to pin id recursively.
func (m *Manager) Pin(ctx context.Context, id string) error {
	if err := m.client.Call(ctx, "pin/add", kubo.Arg(id)); err != nil {
		m.log.WithField("cid", id).WithError(err).Warn("pin failed")
		return err
	}
	m.log.WithField("cid", id).Info("pinned")
	return nil
}

// Unpin releases id. It never fails; see Release for the underlying error.
func (m *Manager) Unpin(ctx context.Context, id string) {
	_ = m.Release(ctx, id)
}

// Release unpins id, logs any failure and returns it for callers that want
// to inspect the outcome.
func (m *Manager) Release(ctx context.Context, id string) error {
	err := m.client.Call(ctx, "pin/rm", kubo.Arg(id))
	if err != nil {
		m.log.WithField("cid", id).WithError(err).Warn("unpin failed")
		return err
	}
	m.log.WithField("cid", id).Info("unpinned")
	return nil
}

// PinMany pins all ids concurrently. Results are in input order.
func (m *Manager) PinMany(ctx context.Context, ids []string) []Result {
	return m.each(ids, func(id string) error { return m.Pin(ctx, id) })
}

// UnpinMany unpins all ids concurrently. Results are in input order.
func (m *Manager) UnpinMany(ctx context.Context, ids []string) []Result {
	return m.each(ids, func(id string) error { return m.Release(ctx, id) })
}

func (m *Manager) each(ids []string, fn func(string) error) []Result {
	if len(ids) == 0 {
		return nil
	}
	mapper := iter.Mapper[string, Result]{MaxGoroutines: len(ids)}
	return mapper.Map(ids, func(id *string) Result {
		return Result{Identifier: *id, Err: fn(*id)}
	})
}

// Failed returns the failed subset of results.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
