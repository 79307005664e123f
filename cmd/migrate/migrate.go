// Package migrate implements the database migration command.
package migrate

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tphakala/birdtag/internal/conf"
	"github.com/tphakala/birdtag/internal/datastore"
)

// Command creates the migrate command, which creates or updates the
// database schema and exits.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := datastore.New(settings)
			if store == nil {
				return fmt.Errorf("no database output enabled in configuration")
			}
			if err := store.Open(); err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return err
			}
			fmt.Println("database schema is up to date")
			return nil
		},
	}
}
