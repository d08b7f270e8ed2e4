package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/blackwell-systems/agentpulse/internal/agent"
	"github.com/blackwell-systems/agentpulse/internal/config"
	"github.com/blackwell-systems/agentpulse/internal/notify"
	"github.com/blackwell-systems/agentpulse/internal/output"
	"github.com/blackwell-systems/agentpulse/internal/store"
)

// pump delivers registry events to the terminal, the history table and
// desktop notifications. It runs on its own goroutine, fed by a channel
// Sink, so none of that work happens under an agent's lock.
type pump struct {
	out      io.Writer
	json     bool
	quiet    bool
	db       *store.DB
	notifier *notify.Notifier
	names    *names
	logger   *slog.Logger

	// onEvent, if set, sees every event after it has been handled.
	onEvent func(agent.Event)
}

func (p *pump) run(events <-chan agent.Event) {
	var enc *json.Encoder
	if p.json {
		enc = json.NewEncoder(p.out)
	}
	for ev := range events {
		p.handle(ev, enc)
	}
}

func (p *pump) handle(ev agent.Event, enc *json.Encoder) {
	switch {
	case p.quiet:
	case enc != nil:
		if err := enc.Encode(ev); err != nil {
			p.logger.Error("writing event failed", "err", err)
		}
	default:
		fmt.Fprintln(p.out, output.EventLine(ev, p.name(ev.ID)))
	}

	if p.db != nil {
		if _, err := p.db.InsertEvent(eventRow(ev)); err != nil {
			p.logger.Error("recording event failed", "id", ev.ID, "type", ev.Type, "err", err)
		}
	}
	if p.notifier != nil {
		if err := p.notifier.Handle(ev); err != nil {
			p.logger.Warn("notification failed", "err", err)
		}
	}
	if p.onEvent != nil {
		p.onEvent(ev)
	}
}

func (p *pump) name(id int) string {
	if p.names == nil {
		return ""
	}
	return p.names.get(id)
}

// newNotifier returns a Notifier configured from cfg, or nil when
// notifications are off.
func newNotifier(cfg *config.Config, n *names) *notify.Notifier {
	if !cfg.Notify.Enabled {
		return nil
	}
	return &notify.Notifier{
		Name:      n.get,
		OnWaiting: cfg.Notify.OnWaiting,
		MinGap:    cfg.Notify.MinGap,
	}
}
