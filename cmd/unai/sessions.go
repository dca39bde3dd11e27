package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newSessionsCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List saved conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, g, func(ctx context.Context, a *app) error {
				metas, err := a.store.List(ctx, limit)
				if err != nil {
					return err
				}
				a.term.PrintSessionList(sessionItems(metas))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of sessions")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print a saved conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, g, func(ctx context.Context, a *app) error {
					s, err := a.store.Load(ctx, args[0])
					if err != nil {
						return err
					}
					a.term.PrintConversationHistory(s.Messages)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a saved conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, g, func(ctx context.Context, a *app) error {
					if err := a.store.Delete(ctx, args[0]); err != nil {
						return err
					}
					a.term.PrintInfo("Deleted session " + args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

func withStore(cmd *cobra.Command, g *globalFlags, fn func(context.Context, *app) error) error {
	a, err := newApp(cmd, g, false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := a.context(cmd.Context())
	if err := a.setupStore(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}
