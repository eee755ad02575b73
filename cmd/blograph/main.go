package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/eaverdeja/blograph/internal/auth"
	"github.com/eaverdeja/blograph/internal/config"
	"github.com/eaverdeja/blograph/internal/graph"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "blograph",
		Short:         "GraphQL blog API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	config.Register(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP GraphQL server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				return serve(cmd.Context(), cfg)
			},
		},
		newSchemaCommand(),
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the PostgreSQL tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				return migrate(cmd.Context(), cmd.OutOrStdout(), cfg.Storage)
			},
		},
		&cobra.Command{
			Use:   "token <user-id>",
			Short: "Issue a bearer token for a user id",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid user id %q", args[0])
				}
				issuer, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TTL)
				if err != nil {
					return err
				}
				tok, err := issuer.Issue(id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tok)
				return nil
			},
		},
	)
	return root
}

func newSchemaCommand() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the GraphQL schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if outFile == "" {
				_, err := io.WriteString(cmd.OutOrStdout(), graph.SDL)
				return err
			}
			return os.WriteFile(outFile, []byte(graph.SDL), 0o644)
		},
	}
	cmd.Flags().StringVar(&outFile, "out", "", "Write the schema to a file instead of stdout")
	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if err := config.LoadDotenv(); err != nil {
		return config.Config{}, err
	}
	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(v)
}
