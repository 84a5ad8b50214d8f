// Package probe asks the daemon's routing subsystem whether any peer
// currently provides an identifier, within a bounded time budget.
//
// The probe answers only "proven available" or "not proven": every failure
// mode (timeout, transport error, non-success status, malformed stream)
// collapses into false. Verdicts are never cached.
package probe

import (
	"bufio"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"xdao.co/gamex/kubo"
)

// EventProvider is the routing event type for "provider found". Other types
// (peer responses, query progress, dialing) are routing chatter.
const EventProvider = 4

// DefaultBudget is used when a non-positive budget is supplied.
const DefaultBudget = 10 * time.Second

// maxLine bounds a single NDJSON record.
const maxLine = 1 << 20

type Verdict struct {
	Identifier string `json:"identifier"`
	Available  bool   `json:"available"`
}

type Prober struct {
	client *kubo.Client
	log    logrus.FieldLogger
}

func New(client *kubo.Client) *Prober {
	return &Prober{client: client, log: client.Logger()}
}

type event struct {
	Type      int    `json:"Type"`
	ID        string `json:"ID,omitempty"`
	Responses []struct {
		ID string `json:"ID"`
	} `json:"Responses,omitempty"`
}

// Check reports whether a provider for id was found within budget.
//
// It never blocks past budget: the request is bound to a context that is
// canceled when the budget expires, which also aborts a response stream the
// daemon never terminates.
func (p *Prober) Check(ctx context.Context, id string, budget time.Duration) bool {
	if id == "" {
		return false
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	log := p.log.WithField("cid", id)
	start := time.Now()

	args := url.Values{
		"arg":           []string{id},
		"num-providers": []string{strconv.Itoa(1)},
	}
	resp, err := p.client.Post(ctx, "routing/findprovs", args, nil, "")
	if err != nil {
		log.WithError(err).Debug("probe request failed")
		return false
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			log.WithError(err).Debug("skipping malformed routing record")
			continue
		}
		if ev.Type == EventProvider {
			log.WithField("elapsed", time.Since(start)).Debug("provider found")
			return true
		}
	}
	if err := sc.Err(); err != nil {
		log.WithError(err).WithField("elapsed", time.Since(start)).Debug("probe aborted")
		return false
	}
	log.WithField("elapsed", time.Since(start)).Debug("no provider found")
	return false
}

// Verdict runs Check and wraps the answer.
func (p *Prober) Verdict(ctx context.Context, id string, budget time.Duration) Verdict {
	return Verdict{Identifier: id, Available: p.Check(ctx, id, budget)}
}
