package ctl

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"gatewayd/pkg/types"
)

// Config holds the client flags shared by every command.
type Config struct {
	Server  string
	Timeout time.Duration
	JSON    bool
}

// DefaultConfig reads GATEWAYD_SERVER and GATEWAYD_CLIENT_TIMEOUT.
func DefaultConfig() *Config {
	return &Config{
		Server:  envStr("GATEWAYD_SERVER", "http://127.0.0.1:8080"),
		Timeout: envDuration("GATEWAYD_CLIENT_TIMEOUT", 30*time.Second),
	}
}

// ErrUnhealthy is returned by the health command when no engine is ready.
var ErrUnhealthy = errors.New("gateway unhealthy")

// AddFlags registers the client flags on cmd as persistent flags.
func AddFlags(cmd *cobra.Command, cfg *Config) {
	cmd.PersistentFlags().StringVar(&cfg.Server, "server", cfg.Server, "Gateway base URL (defaults GATEWAYD_SERVER)")
	cmd.PersistentFlags().DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Timeout of non-streaming calls")
	cmd.PersistentFlags().BoolVar(&cfg.JSON, "json", cfg.JSON, "Print raw JSON replies")
}

// Commands returns the client command group.
func Commands(cfg *Config) []*cobra.Command {
	return []*cobra.Command{modelsCmd(cfg), healthCmd(cfg), loadCmd(cfg), statusCmd(cfg), chatCmd(cfg)}
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func modelsCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:     "models",
		Short:   "List the models served by the gateway",
		Example: "  gatewayd models --server http://localhost:8080",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := NewClient(cfg.Server, cfg.Timeout).Models(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.JSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATE\tOWNED BY")
			for _, m := range resp.Data {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ID, m.State, m.OwnedBy)
			}
			return tw.Flush()
		},
	}
}

func healthCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show aggregate and per-model health; fails when unhealthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hr, err := NewClient(cfg.Server, cfg.Timeout).Health(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg.JSON {
				if err := printJSON(out, hr); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, hr.Status)
				ids := make([]string, 0, len(hr.Models))
				for id := range hr.Models {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, id := range ids {
					m := hr.Models[id]
					probe := "-"
					if m.EngineHealthy != nil {
						probe = fmt.Sprint(*m.EngineHealthy)
					}
					fmt.Fprintf(tw, "  %s\t%s\tattempts=%d\tprobe=%s\t%s\n", id, m.State, m.InitAttempts, probe, m.Error)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			if hr.Status != "healthy" {
				return ErrUnhealthy
			}
			return nil
		},
	}
}

func loadCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Show the replica load signal polled by the orchestrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ld, err := NewClient(cfg.Server, cfg.Timeout).Load(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.JSON {
				return printJSON(cmd.OutOrStdout(), ld)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "in_flight=%d max_ongoing=%d target=%g replicas=[%d..%d] draining=%v\n",
				ld.InFlight, ld.MaxOngoingRequests, ld.TargetOngoingRequests, ld.MinReplicas, ld.MaxReplicas, ld.Draining)
			return nil
		},
	}
}

func statusCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine handle states",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := NewClient(cfg.Server, cfg.Timeout).Status(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.JSON {
				return printJSON(cmd.OutOrStdout(), st)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "init_mode=%s\tin_flight=%d\tuptime=%ds\tdraining=%v\n", st.InitMode, st.InFlight, st.UptimeSeconds, st.Draining)
			fmt.Fprintln(tw, "MODEL\tKIND\tSTATE\tATTEMPTS\tLAST ERROR")
			for _, in := range st.Instances {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", in.ModelID, in.Kind, in.State, in.InitAttempts, in.LastError)
			}
			return tw.Flush()
		},
	}
}

func chatCmd(cfg *Config) *cobra.Command {
	var (
		model       string
		system      string
		stream      bool
		maxTokens   int
		temperature float64
	)
	cmd := &cobra.Command{
		Use:     "chat <message...>",
		Short:   "Send one user message and print the reply",
		Example: "  gatewayd chat --model qwen2.5-0.5b Write a haiku about the ocean",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := types.ChatCompletionRequest{Model: model, MaxTokens: maxTokens}
			if system != "" {
				req.Messages = append(req.Messages, types.Message{Role: "system", Content: system})
			}
			req.Messages = append(req.Messages, types.Message{Role: "user", Content: strings.Join(args, " ")})
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &temperature
			}
			out := cmd.OutOrStdout()
			if !stream {
				cl := NewClient(cfg.Server, cfg.Timeout)
				resp, err := cl.Complete(cmd.Context(), req)
				if err != nil {
					return err
				}
				if cfg.JSON {
					return printJSON(out, resp)
				}
				if len(resp.Choices) > 0 {
					fmt.Fprintln(out, resp.Choices[0].Message.Content)
				}
				return nil
			}
			// Streams may legitimately outlive the client timeout.
			cl := NewClient(cfg.Server, 0)
			finish, err := cl.Stream(cmd.Context(), req, func(s string) error {
				_, werr := io.WriteString(out, s)
				return werr
			})
			fmt.Fprintln(out)
			if err != nil {
				return err
			}
			if finish != "" && finish != "stop" {
				fmt.Fprintf(cmd.ErrOrStderr(), "[finish_reason=%s]\n", finish)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model id (defaults to the server's default model)")
	cmd.Flags().StringVar(&system, "system", "", "Optional system prompt")
	cmd.Flags().BoolVar(&stream, "stream", true, "Stream the reply as it is generated")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum new tokens (0 = engine default)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature")
	return cmd
}
