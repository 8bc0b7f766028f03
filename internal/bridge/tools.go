package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"concierge/callbridge/internal/prompt"
	"concierge/callbridge/internal/realtime"
	"concierge/callbridge/internal/reservations"
)

func (c *Call) onOutputItemDone(e realtime.OutputItemDone) {
	fc, ok, err := e.FunctionCall()
	if !ok {
		return
	}
	if err != nil {
		metricParseErrors.WithLabelValues("model").Inc()
		metricToolCalls.WithLabelValues(toolLabel(e.Item.Name), "invalid_arguments").Inc()
		c.log.Warn("tool call arguments unreadable", "tool", e.Item.Name, "err", err)
		c.replyTool(e.Item.CallID, map[string]any{"error": "invalid_arguments"}, "")
		return
	}
	if c.deps.Config != nil {
		if err := c.deps.Config.Validate(fc.Name, fc.Arguments); err != nil {
			outcome := "invalid_arguments"
			if errors.Is(err, prompt.ErrUnknownTool) {
				outcome = "unknown_tool"
			}
			metricToolCalls.WithLabelValues(toolLabel(fc.Name), outcome).Inc()
			c.log.Warn("tool call rejected", "tool", fc.Name, "err", err)
			c.replyTool(fc.CallID, map[string]any{"error": outcome}, "")
			return
		}
	}
	c.deps.Observer.CallEvent(c.ID, "tool_call", map[string]any{
		"name":      fc.Name,
		"call_id":   fc.CallID,
		"arguments": string(fc.Arguments),
	})

	switch fc.Name {
	case prompt.ToolEndConversation:
		var args prompt.EndConversationArgs
		_ = json.Unmarshal(fc.Arguments, &args)
		c.endConversation(fc.CallID, args.ShouldEnd)
	case prompt.ToolGetReservation:
		var args prompt.GetReservationArgs
		_ = json.Unmarshal(fc.Arguments, &args)
		c.lookupReservation(fc.CallID, args.Name)
	default:
		metricToolCalls.WithLabelValues("unknown", "unknown_tool").Inc()
		c.replyTool(fc.CallID, map[string]any{"error": "unknown_tool"}, "")
	}
}

// endConversation asks the model to say goodbye and hangs up after the grace
// period so the farewell audio can play out.
func (c *Call) endConversation(callID string, shouldEnd bool) {
	if !shouldEnd {
		metricToolCalls.WithLabelValues(prompt.ToolEndConversation, "declined").Inc()
		c.replyTool(callID, map[string]any{"ok": true, "ended": false}, "")
		return
	}
	if c.ending {
		return
	}
	c.ending = true
	metricToolCalls.WithLabelValues(prompt.ToolEndConversation, "ending").Inc()
	c.sendModelControl(realtime.ResponseCreate(c.opts.Farewell))
	grace := c.opts.HangupGrace
	c.hangup = time.AfterFunc(grace, func() { c.post(hangupDue{}) })
	c.log.Info("hanging up", "grace_ms", grace.Milliseconds())
	c.deps.Observer.CallEvent(c.ID, "farewell", map[string]any{"grace_ms": grace.Milliseconds()})
}

func (c *Call) lookupReservation(callID, name string) {
	if c.deps.Reservations == nil {
		c.onLookupDone(lookupDone{callID: callID, name: name, err: errors.New("no reservation backend")})
		return
	}
	lookup := c.deps.Reservations
	timeout := c.opts.LookupTimeout
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		ctx, cancel := context.WithTimeout(c.ctx, timeout)
		defer cancel()
		res, err := lookup.Lookup(ctx, name)
		c.post(lookupDone{callID: callID, name: name, res: res, err: err})
	}()
}

func (c *Call) onLookupDone(ev lookupDone) {
	var out map[string]any
	outcome := "found"
	switch {
	case ev.err == nil:
		out = reservationOutput(ev.res)
	case errors.Is(ev.err, reservations.ErrNotFound):
		outcome = "not_found"
		out = map[string]any{"found": false, "name": ev.name}
	default:
		outcome = "failed"
		c.log.Warn("reservation lookup failed", "err", ev.err)
		out = map[string]any{"found": false, "error": "lookup_failed"}
	}
	metricToolCalls.WithLabelValues(prompt.ToolGetReservation, outcome).Inc()
	c.deps.Observer.CallEvent(c.ID, "reservation_lookup", map[string]any{"name": ev.name, "outcome": outcome})
	c.replyTool(ev.callID, out, c.opts.ReservationPrompt)
}

func reservationOutput(r reservations.Reservation) map[string]any {
	out := map[string]any{
		"found":     true,
		"name":      r.GuestName,
		"date":      r.CheckIn.Format("2006-01-02"),
		"check_out": r.CheckOut.Format("2006-01-02"),
		"guests":    r.Guests,
		"status":    r.Status,
	}
	if r.Room != "" {
		out["room"] = r.Room
	}
	return out
}

// replyTool answers a function call and asks the model to continue.
func (c *Call) replyTool(callID string, output map[string]any, instructions string) {
	if c.modelState != modelOpen {
		return
	}
	b, _ := json.Marshal(output)
	c.sendModelControl(realtime.FunctionCallOutput(callID, string(b)))
	c.sendModelControl(realtime.ResponseCreate(instructions))
}

func toolLabel(name string) string {
	switch name {
	case prompt.ToolEndConversation, prompt.ToolGetReservation:
		return name
	default:
		return "unknown"
	}
}
