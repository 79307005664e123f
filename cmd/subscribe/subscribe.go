// Package subscribe implements the subscription management commands.
package subscribe

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/tphakala/birdtag/internal/conf"
	"github.com/tphakala/birdtag/internal/datastore"
	"github.com/tphakala/birdtag/internal/subscription"
)

// Command creates the subscribe command group: add, remove and list.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Manage species tag subscriptions",
	}

	cmd.AddCommand(
		addCommand(settings),
		removeCommand(settings),
		listCommand(settings),
	)
	return cmd
}

// withRegistry opens the store, runs fn against a registry and closes up.
func withRegistry(settings *conf.Settings, fn func(*cobra.Command, []string, *subscription.Registry) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		store := datastore.New(settings)
		if store == nil {
			return fmt.Errorf("no database output enabled in configuration")
		}
		if err := store.Open(); err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		return fn(cmd, args, subscription.NewRegistry(store, &settings.Subscriptions))
	}
}

func addCommand(settings *conf.Settings) *cobra.Command {
	var (
		ownerID       string
		minConfidence float64
	)

	cmd := &cobra.Command{
		Use:   "add [tag]",
		Short: "Subscribe an owner to a species tag",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVarP(&ownerID, "owner", "o", "", "Owner the subscription belongs to")
	cmd.Flags().Float64VarP(&minConfidence, "min-confidence", "c", 0, "Minimum confidence to notify at")
	_ = cmd.MarkFlagRequired("owner")

	cmd.RunE = withRegistry(settings, func(cmd *cobra.Command, args []string, registry *subscription.Registry) error {
		sub, err := registry.Subscribe(cmd.Context(), ownerID, args[0], minConfidence)
		if err != nil {
			return err
		}
		cmd.Printf("subscribed: %s (%s >= %.2f)\n", sub.ID, sub.TagName, sub.MinConfidence)
		return nil
	})
	return cmd
}

func removeCommand(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove [subscription-id]",
		Short: "Remove a subscription",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = withRegistry(settings, func(cmd *cobra.Command, args []string, registry *subscription.Registry) error {
		if err := registry.Unsubscribe(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Println("subscription removed")
		return nil
	})
	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	var ownerID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's subscriptions",
	}
	cmd.Flags().StringVarP(&ownerID, "owner", "o", "", "Owner to list subscriptions for")
	_ = cmd.MarkFlagRequired("owner")

	cmd.RunE = withRegistry(settings, func(cmd *cobra.Command, _ []string, registry *subscription.Registry) error {
		subs, err := registry.ListByOwner(cmd.Context(), ownerID)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			cmd.Println("no subscriptions")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"ID", "Tag", "Min Confidence", "Created"})
		for i := range subs {
			sub := &subs[i]
			t.AppendRow(table.Row{sub.ID, sub.TagName, fmt.Sprintf("%.2f", sub.MinConfidence), sub.CreatedAt.Format("2006-01-02 15:04")})
		}
		t.Render()
		return nil
	})
	return cmd
}
