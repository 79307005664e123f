// Package tags implements the manual tag curation commands.
package tags

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tphakala/birdtag/internal/conf"
	"github.com/tphakala/birdtag/internal/datastore"
	"github.com/tphakala/birdtag/internal/media"
)

// Command creates the tags command group: manual add and remove across one
// or more media records. Manual curation does not trigger notifications.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Manually add or remove tags on media records",
	}

	cmd.AddCommand(
		addCommand(settings),
		removeCommand(settings),
	)
	return cmd
}

func addCommand(settings *conf.Settings) *cobra.Command {
	var mediaIDs []string

	cmd := &cobra.Command{
		Use:   "add [tag:confidence]...",
		Short: "Add tags to media records",
		Long: `Adds the given tags to every listed media record. When a record already
carries a tag, the higher of the existing and given confidence wins.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := parseTags(args)
			if err != nil {
				return err
			}
			return modifyTags(cmd, settings, mediaIDs, tags, datastore.TagOpAdd)
		},
	}
	cmd.Flags().StringArrayVarP(&mediaIDs, "media", "m", nil, "Media record id (repeatable)")
	_ = cmd.MarkFlagRequired("media")
	return cmd
}

func removeCommand(settings *conf.Settings) *cobra.Command {
	var mediaIDs []string

	cmd := &cobra.Command{
		Use:   "remove [tag]...",
		Short: "Remove tags from media records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tags := make(map[string]float64, len(args))
			for _, name := range args {
				tags[name] = 0
			}
			return modifyTags(cmd, settings, mediaIDs, tags, datastore.TagOpRemove)
		},
	}
	cmd.Flags().StringArrayVarP(&mediaIDs, "media", "m", nil, "Media record id (repeatable)")
	_ = cmd.MarkFlagRequired("media")
	return cmd
}

func modifyTags(cmd *cobra.Command, settings *conf.Settings, mediaIDs []string, tags map[string]float64, op datastore.TagOp) error {
	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database output enabled in configuration")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	service := media.NewService(store, nil, nil)
	if err := service.ModifyTags(cmd.Context(), mediaIDs, tags, op); err != nil {
		return err
	}
	cmd.Printf("updated %d media records\n", len(mediaIDs))
	return nil
}

// parseTags converts "name:confidence" arguments into a tag map. A bare
// name gets confidence 1, the manual curation default.
func parseTags(args []string) (map[string]float64, error) {
	tags := make(map[string]float64, len(args))
	for _, arg := range args {
		name := arg
		confidence := 1.0

		if idx := strings.LastIndex(arg, ":"); idx >= 0 {
			value, err := strconv.ParseFloat(arg[idx+1:], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid tag %q: confidence must be a number", arg)
			}
			name = arg[:idx]
			confidence = value
		}
		tags[name] = confidence
	}
	return tags, nil
}
