package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"titledeed/internal/deed/client"
	"titledeed/internal/deed/models"
	jwttoken "titledeed/internal/jwt_token"
	"titledeed/internal/platform/middleware"
	id "titledeed/pkg/domain"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "deedctl",
		Short: "Title deed issuance CLI",
		Long: `deedctl talks to the title deed issuance service.

Issue a deed for an approved application, list issuance attempts that need
attention, and drive recovery: reconcile resolves a confirmation_unknown
attempt against the ledger, retry-commit replays the records write for a
commit_failed attempt without touching the ledger again.`,
		SilenceUsage: true,
	}
	v.SetEnvPrefix("DEED")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.PersistentFlags().String("server", "http://localhost:8080", "issuance service base URL")
	root.PersistentFlags().String("token", "", "operator bearer token")
	root.PersistentFlags().Bool("json", false, "output JSON")
	_ = v.BindPFlag("server", root.PersistentFlags().Lookup("server"))
	_ = v.BindPFlag("token", root.PersistentFlags().Lookup("token"))
	_ = v.BindPFlag("json", root.PersistentFlags().Lookup("json"))

	root.AddCommand(
		issueCmd(v),
		attemptsCmd(v),
		reconcileCmd(v),
		retryCommitCmd(v),
		attestationCmd(v),
		tokenCmd(v),
	)
	return root
}

func apiClient(v *viper.Viper) (*client.Client, error) {
	return client.New(v.GetString("server"), client.WithToken(v.GetString("token")))
}

func issueCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "issue <application-id>",
		Short: "Issue a title deed for an approved application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appID, err := id.ParseApplicationID(args[0])
			if err != nil {
				return err
			}
			c, err := apiClient(v)
			if err != nil {
				return err
			}
			resp, err := c.Issue(cmd.Context(), appID)
			if err != nil {
				return explain(err)
			}
			return render(cmd.OutOrStdout(), v.GetBool("json"), resp, func(tw tableWriter) {
				tw.AppendHeader(rowOf("APPLICATION", "DEED NUMBER", "TX HASH"))
				tw.AppendRow(rowOf(resp.ApplicationID, resp.DeedNumber, resp.TransactionHash))
			})
		},
	}
}

func attemptsCmd(v *viper.Viper) *cobra.Command {
	var (
		states []string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "List issuance attempts",
		Example: `  deedctl attempts --state commit_failed --state confirmation_unknown
  deedctl attempts --limit 20 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := make([]models.State, 0, len(states))
			for _, s := range states {
				st, ok := models.ParseState(s)
				if !ok {
					return fmt.Errorf("unknown state %q", s)
				}
				parsed = append(parsed, st)
			}
			c, err := apiClient(v)
			if err != nil {
				return err
			}
			attempts, err := c.ListAttempts(cmd.Context(), parsed, limit)
			if err != nil {
				return explain(err)
			}
			return render(cmd.OutOrStdout(), v.GetBool("json"), attempts, func(tw tableWriter) {
				tw.AppendHeader(rowOf("APPLICATION", "STATE", "SCOPE", "TX HASH", "UPDATED", "LAST ERROR"))
				for _, a := range attempts {
					tw.AppendRow(rowOf(a.ApplicationID, a.State, a.RetryScope, a.TxHash, a.UpdatedAt.Format(time.RFC3339), a.LastError))
				}
			})
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "filter by state (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum attempts to return")
	return cmd
}

func reconcileCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <tx-hash>",
		Short: "Resolve an attempt against the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := id.ParseTxHash(args[0])
			if err != nil {
				return err
			}
			c, err := apiClient(v)
			if err != nil {
				return err
			}
			resp, err := c.Reconcile(cmd.Context(), hash)
			if err != nil {
				return explain(err)
			}
			return render(cmd.OutOrStdout(), v.GetBool("json"), resp, func(tw tableWriter) {
				tw.AppendHeader(rowOf("APPLICATION", "LEDGER", "STATE", "DEED NUMBER"))
				var (
					appID any
					state any
					deed  any
				)
				if resp.Attempt != nil {
					appID, state, deed = resp.Attempt.ApplicationID, resp.Attempt.State, resp.Attempt.DeedNumber
				}
				tw.AppendRow(rowOf(appID, resp.Outcome, state, deed))
			})
		},
	}
}

func retryCommitCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-commit <tx-hash>",
		Short: "Replay the records commit for a confirmed issuance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := id.ParseTxHash(args[0])
			if err != nil {
				return err
			}
			c, err := apiClient(v)
			if err != nil {
				return err
			}
			resp, err := c.RetryCommit(cmd.Context(), hash)
			if err != nil {
				return explain(err)
			}
			return render(cmd.OutOrStdout(), v.GetBool("json"), resp, func(tw tableWriter) {
				tw.AppendHeader(rowOf("APPLICATION", "DEED NUMBER", "TX HASH"))
				tw.AppendRow(rowOf(resp.ApplicationID, resp.DeedNumber, resp.TransactionHash))
			})
		},
	}
}

func attestationCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "attestation <deed-number>",
		Short: "Read a deed as recorded on the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deed, err := id.ParseDeedNumber(args[0])
			if err != nil {
				return err
			}
			c, err := apiClient(v)
			if err != nil {
				return err
			}
			view, err := c.Attestation(cmd.Context(), deed)
			if err != nil {
				return explain(err)
			}
			return render(cmd.OutOrStdout(), v.GetBool("json"), view, func(tw tableWriter) {
				tw.AppendHeader(rowOf("DEED NUMBER", "USER", "NAME", "LAND CODE", "LAND TYPE"))
				tw.AppendRow(rowOf(view.DeedNumber, view.UserID, view.FullName, view.LandCode, view.LandType))
			})
		},
	}
}

func tokenCmd(v *viper.Viper) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a registrar token from DEED_JWT_SIGNING_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := v.GetString("jwt-signing-key")
			if key == "" {
				return fmt.Errorf("DEED_JWT_SIGNING_KEY is required")
			}
			issuer := v.GetString("jwt-issuer")
			if issuer == "" {
				issuer = "titledeed"
			}
			audience := v.GetString("jwt-audience")
			if audience == "" {
				audience = "titledeed-operators"
			}
			svc := jwttoken.NewJWTService(key, issuer, audience)
			token, err := svc.GenerateOperatorToken(subject, []string{middleware.RoleRegistrar}, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "registrar", "operator subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
