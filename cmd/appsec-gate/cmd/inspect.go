package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/appsec-gate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/arena"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/clientip"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/collection"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/rules"
	"github.com/Sentinel-Gate/appsec-gate/internal/domain/valuetree"
	"github.com/Sentinel-Gate/appsec-gate/internal/service"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <request-file|->",
	Short: "Show the value tree and decision for a raw HTTP request",
	Long: `Parse a raw HTTP/1.x request, print the request-phase value tree the
rules see as YAML, then evaluate the configured request rules against it.

Examples:
  # Inspect a captured request
  appsec-gate inspect request.txt

  # Read from stdin, as if sent from 203.0.113.7, without evaluating rules
  printf 'GET /?q=1 HTTP/1.1\r\nHost: app\r\n\r\n' | appsec-gate inspect --peer 203.0.113.7:4242 --no-rules -`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectPeer    string
	inspectNoRules bool
)

func init() {
	inspectCmd.Flags().StringVar(&inspectPeer, "peer", "127.0.0.1:0", "peer address the request is treated as coming from")
	inspectCmd.Flags().BoolVar(&inspectNoRules, "no-rules", false, "only print the value tree")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open request file: %w", err)
		}
		defer f.Close()
		in = f
	}

	var ruleList []rules.Rule
	clientIPHeader := ""
	if !inspectNoRules {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if ruleList, err = cfg.BuildRules(); err != nil {
			return err
		}
		clientIPHeader = cfg.AppSec.ClientIPHeader
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	return inspectRequest(cmd.Context(), cmd.OutOrStdout(), in, inspectOptions{
		peer:           inspectPeer,
		clientIPHeader: clientIPHeader,
		rules:          ruleList,
		evaluate:       !inspectNoRules,
		logger:         logger,
	})
}

type inspectOptions struct {
	peer           string
	clientIPHeader string
	rules          []rules.Rule
	evaluate       bool
	logger         *slog.Logger
}

// inspectReport is the YAML document printed by inspect.
type inspectReport struct {
	Data     any             `yaml:"data"`
	Decision *decisionReport `yaml:"decision,omitempty"`
}

type decisionReport struct {
	Blocked     bool     `yaml:"blocked"`
	Rule        string   `yaml:"rule,omitempty"`
	Status      int      `yaml:"status,omitempty"`
	ContentType string   `yaml:"content_type,omitempty"`
	Location    string   `yaml:"location,omitempty"`
	Monitored   []string `yaml:"monitored,omitempty"`
	Errors      string   `yaml:"errors,omitempty"`
}

func inspectRequest(ctx context.Context, w io.Writer, in io.Reader, opts inspectOptions) error {
	req, err := stdhttp.ReadRequest(bufio.NewReader(in))
	if err != nil {
		return fmt.Errorf("failed to parse request: %w", err)
	}
	req.RemoteAddr = opts.peer

	a := valuetree.NewArena(arena.WithObjectChunk(64))
	defer a.Release()

	serializer := collection.NewSerializer(a, clientip.NewResolver(opts.clientIPHeader))
	tree := serializer.RequestData(http.ConvertRequest(req))

	report := inspectReport{Data: tree.Interface()}
	if opts.evaluate {
		engine, err := service.NewRuleService(opts.rules, opts.logger, service.WithCacheSize(0))
		if err != nil {
			return fmt.Errorf("failed to compile rules: %w", err)
		}
		decision, evalErr := engine.Evaluate(ctx, rules.PhaseRequest, tree)
		report.Decision = newDecisionReport(decision, evalErr)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return enc.Close()
}

func newDecisionReport(d rules.Decision, evalErr error) *decisionReport {
	r := &decisionReport{
		Blocked:   d.Blocked,
		Monitored: d.Monitored,
	}
	if d.Blocked {
		r.Rule = d.Rule
		r.Status = d.Block.Status
		r.ContentType = d.Block.ContentType.String()
		r.Location = d.Block.Location
	}
	if evalErr != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(evalErr, &joined) {
			r.Errors = fmt.Sprintf("%d rule(s) failed: %v", len(joined.Unwrap()), evalErr)
		} else {
			r.Errors = evalErr.Error()
		}
	}
	return r
}
