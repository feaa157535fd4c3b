package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"shop-activation/internal/application"
	"shop-activation/internal/config"
	"shop-activation/internal/domain/model"
	"shop-activation/internal/infra/logging"
	"shop-activation/internal/infra/web"
	"shop-activation/internal/usecase"
)

type rootOptions struct {
	configPath string
	verbose    bool
	asJSON     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "licensectl",
		Short:         "Manage activation codes and the administrator license",
		Long: `licensectl opens the same stores as the service, using the same config file.

The file, sqlite and postgres drivers can be shared with a running service. The bolt
driver holds its database exclusively, so stop the service before using licensectl
against a bolt store.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to config yaml")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of tables")

	root.AddCommand(
		newCodesCmd(opts),
		newLicenseCmd(opts),
		newActivateCmd(opts),
		newAccountsCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

// withApp opens the configured stores for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, app *application.App) error) error {
	cfg, err := config.Load(opts.configPath, false)
	if err != nil {
		return err
	}
	logger := zerolog.Nop()
	if opts.verbose {
		logger = logging.New(cfg.Log, true).Output(cmd.ErrOrStderr())
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	app, err := application.New(ctx, cfg, &logger)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer app.Close()
	return fn(ctx, app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---- codes ----

func newCodesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "codes", Short: "Issue and list activation codes"}

	var (
		typ     string
		days    int
		count   int
		code    string
		note    string
		expires time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue new activation codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := usecase.IssueRequest{Type: model.CodeType(typ), Count: count, Note: note}
			if days > 0 {
				req.DurationDays = &days
			}
			return withApp(cmd, opts, func(ctx context.Context, app *application.App) error {
				if expires > 0 {
					at := app.Clock.Now().UTC().Add(expires)
					req.ExpiresAt = &at
				}
				var issued []*model.ActivationCode
				if code != "" {
					c, err := app.Issuer.Register(ctx, code, req)
					if err != nil {
						return err
					}
					issued = []*model.ActivationCode{c}
				} else {
					var err error
					if issued, err = app.Issuer.Issue(ctx, req); err != nil {
						return err
					}
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), issued)
				}
				for _, c := range issued {
					fmt.Fprintln(cmd.OutOrStdout(), c.Code)
				}
				return nil
			})
		},
	}
	issue.Flags().StringVar(&typ, "type", string(model.CodeTypeTrial), "code type: trial or permanent")
	issue.Flags().IntVar(&days, "days", 0, "trial length in days (0 uses the configured default)")
	issue.Flags().IntVar(&count, "count", 1, "number of codes to generate")
	issue.Flags().StringVar(&code, "code", "", "register this exact code instead of generating one")
	issue.Flags().StringVar(&note, "note", "", "free-form note stored with the code")
	issue.Flags().DurationVar(&expires, "expires-in", 0, "code stops being redeemable after this long")

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List activation codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *application.App) error {
				all, err := app.Issuer.List(ctx)
				if err != nil {
					return err
				}
				codes := all[:0]
				for _, c := range all {
					if status == "" || string(c.Status) == status {
						codes = append(codes, c)
					}
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), codes)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "CODE\tTYPE\tDAYS\tSTATUS\tUSED BY\tCREATED")
				for _, c := range codes {
					d := "-"
					if c.DurationDays != nil {
						d = fmt.Sprint(*c.DurationDays)
					}
					by := "-"
					if c.UsedBy != nil {
						by = *c.UsedBy
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.Code, c.Type, d, c.Status, by, c.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status: available or used")

	cmd.AddCommand(issue, list)
	return cmd
}

// ---- license ----

func newLicenseCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "license", Short: "Inspect or demote the administrator license"}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current license",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *application.App) error {
				lic, err := app.Activation.GetCurrentLicense(ctx)
				if err != nil {
					return err
				}
				if lic == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "no license")
					return nil
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), lic)
				}
				expires := "never"
				if lic.ExpiresAt != nil {
					expires = lic.ExpiresAt.Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "admin:     %s\ntype:      %s\nactivated: %s\nexpires:   %s\ncode:      %s\n",
					lic.UserID, lic.Type, lic.ActivatedAt.Format(time.RFC3339), expires, lic.CodeUsed)
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the license state and remaining days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *application.App) error {
				st, err := app.Activation.Status(ctx)
				if err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), st)
				}
				remaining := fmt.Sprint(st.RemainingDays)
				if st.License != nil && st.License.IsPermanent() {
					remaining = "permanent"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "state:     %s\nremaining: %s\nexpiring:  %t\nexpired:   %t\n",
					st.State, remaining, st.Expiring, st.Expired)
				return nil
			})
		},
	}

	demote := &cobra.Command{
		Use:   "demote",
		Short: "Demote the administrator if the trial has expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *application.App) error {
				done, err := app.Activation.Demote(ctx)
				if err != nil {
					return err
				}
				if done {
					fmt.Fprintln(cmd.OutOrStdout(), "expired administrator demoted")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to demote")
				}
				return nil
			})
		},
	}

	cmd.AddCommand(show, status, demote)
	return cmd
}

// ---- activate / accounts / token ----

func newActivateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <code> <user-id>",
		Short: "Redeem a code on behalf of a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *application.App) error {
				lic, err := app.Activation.Activate(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), lic)
				}
				if lic.ExpiresAt == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is now a permanent administrator\n", lic.UserID)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is administrator until %s\n", lic.UserID, lic.ExpiresAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}

func newAccountsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "accounts", Short: "Inspect shop accounts"}
	var adminsOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts known to the activation store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *application.App) error {
				var (
					accs []*model.Account
					err  error
				)
				if adminsOnly {
					accs, err = app.Stores.Users.ListAdmins(ctx)
				} else {
					accs, err = app.Stores.Users.ListAccounts(ctx)
				}
				if err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), accs)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tUSERNAME\tROLES\tTRIAL")
				for _, a := range accs {
					fmt.Fprintf(tw, "%s\t%s\t%v\t%t\n", a.ID, a.Username, a.Roles, a.TrialActive)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().BoolVar(&adminsOnly, "admins", false, "only list administrators")
	cmd.AddCommand(list)
	return cmd
}

var errNoJWTSecret = errors.New("http.jwt_secret is not configured")

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for the HTTP API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath, false)
			if err != nil {
				return err
			}
			if cfg.HTTP.JWTSecret == "" {
				return errNoJWTSecret
			}
			tok, err := web.NewAuthManager(cfg.HTTP.JWTSecret, cfg.HTTP.TokenTTL).Mint(args[0], username)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username embedded in the token")
	return cmd
}
