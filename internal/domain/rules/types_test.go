package rules

import (
	"strings"
	"testing"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/blocking"
)

func TestRule_Validate(t *testing.T) {
	valid := Rule{
		Name:      "block-admin",
		Phase:     PhaseRequest,
		Condition: `data["server.request.uri.raw"].startsWith("/admin")`,
		Action:    ActionBlock,
		Block:     blocking.DefaultBlockSpec(),
	}

	tests := []struct {
		name    string
		mutate  func(r *Rule)
		wantErr string
	}{
		{"valid", func(r *Rule) {}, ""},
		{"missing name", func(r *Rule) { r.Name = "" }, "name is required"},
		{"missing condition", func(r *Rule) { r.Condition = "" }, "condition is required"},
		{"bad phase", func(r *Rule) { r.Phase = "body" }, "unknown phase"},
		{"bad action", func(r *Rule) { r.Action = "drop" }, "unknown action"},
		{"bad status", func(r *Rule) { r.Block.Status = 700 }, "invalid block status"},
		{"location without redirect", func(r *Rule) { r.Block.Location = "/login" }, "3xx"},
		{"redirect", func(r *Rule) {
			r.Block = blocking.BlockSpec{Status: 302, ContentType: blocking.PolicyNone, Location: "/login"}
		}, ""},
		{"monitor ignores block spec", func(r *Rule) {
			r.Action = ActionMonitor
			r.Block = blocking.BlockSpec{}
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParsePhaseAndAction(t *testing.T) {
	if p, err := ParsePhase(""); err != nil || p != PhaseRequest {
		t.Errorf("ParsePhase(\"\") = %q, %v", p, err)
	}
	if p, err := ParsePhase("response"); err != nil || p != PhaseResponse {
		t.Errorf("ParsePhase(response) = %q, %v", p, err)
	}
	if _, err := ParsePhase("RESPONSE"); err == nil {
		t.Error("ParsePhase should be case-sensitive")
	}
	if a, err := ParseAction(""); err != nil || a != ActionBlock {
		t.Errorf("ParseAction(\"\") = %q, %v", a, err)
	}
	if a, err := ParseAction("monitor"); err != nil || a != ActionMonitor {
		t.Errorf("ParseAction(monitor) = %q, %v", a, err)
	}
}
