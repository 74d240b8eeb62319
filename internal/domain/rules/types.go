// Package rules contains domain types for security rule evaluation over
// serialized request and response data.
package rules

import (
	"errors"
	"fmt"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/blocking"
)

// Phase is the point of the exchange a rule inspects.
type Phase string

const (
	// PhaseRequest rules see the request data before it is forwarded.
	PhaseRequest Phase = "request"
	// PhaseResponse rules see the upstream response status and headers.
	PhaseResponse Phase = "response"
)

// ParsePhase parses a phase name. An empty string means request.
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "", string(PhaseRequest):
		return PhaseRequest, nil
	case string(PhaseResponse):
		return PhaseResponse, nil
	default:
		return "", fmt.Errorf("unknown phase %q", s)
	}
}

// Action is what happens when a rule condition matches.
type Action string

const (
	// ActionBlock replaces the response with a block response.
	ActionBlock Action = "block"
	// ActionMonitor only records the match.
	ActionMonitor Action = "monitor"
)

// ParseAction parses an action name. An empty string means block.
func ParseAction(s string) (Action, error) {
	switch s {
	case "", string(ActionBlock):
		return ActionBlock, nil
	case string(ActionMonitor):
		return ActionMonitor, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Rule is a single inspection rule.
type Rule struct {
	// Name identifies the rule in logs, metrics and decisions.
	Name string
	// Phase selects the data the condition sees.
	Phase Phase
	// Condition is a CEL expression that must evaluate to true for the rule to match.
	Condition string
	// Action is applied when the condition matches.
	Action Action
	// Block describes the block response for ActionBlock rules.
	Block blocking.BlockSpec
}

// Validate checks the rule fields that do not depend on the expression language.
func (r Rule) Validate() error {
	if r.Name == "" {
		return errors.New("rule name is required")
	}
	if r.Condition == "" {
		return fmt.Errorf("rule %q: condition is required", r.Name)
	}
	if _, err := ParsePhase(string(r.Phase)); err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	if _, err := ParseAction(string(r.Action)); err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	if r.Action == ActionMonitor {
		return nil
	}
	if err := r.Block.Validate(); err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	if r.Block.Location != "" && (r.Block.Status < 300 || r.Block.Status > 399) {
		return fmt.Errorf("rule %q: location requires a 3xx status, got %d", r.Name, r.Block.Status)
	}
	return nil
}

// Decision is the outcome of evaluating one phase.
type Decision struct {
	// Blocked is true if a block rule matched.
	Blocked bool
	// Rule is the name of the block rule that matched.
	Rule string
	// Block is the response to send when Blocked is true.
	Block blocking.BlockSpec
	// Monitored lists the monitor rules that matched, in rule order.
	Monitored []string
}
