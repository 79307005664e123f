// Package ingest implements the detection batch ingestion command.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tphakala/birdtag/internal/conf"
	"github.com/tphakala/birdtag/internal/datastore"
	"github.com/tphakala/birdtag/internal/errors"
	"github.com/tphakala/birdtag/internal/events"
	"github.com/tphakala/birdtag/internal/media"
	"github.com/tphakala/birdtag/internal/notification"
	"github.com/tphakala/birdtag/internal/observability"
	"github.com/tphakala/birdtag/internal/subscription"
)

// drainTimeout bounds how long shutdown waits for in-flight notifications.
const drainTimeout = 30 * time.Second

// batch is one detection batch in the input file: a media item identified
// by its storage reference plus the detector's species→confidence output.
type batch struct {
	StorageRef   string             `json:"storage_ref"`
	FileType     string             `json:"file_type"`
	ThumbnailRef string             `json:"thumbnail_ref,omitempty"`
	Detections   map[string]float64 `json:"detections"`
}

// Command creates the ingest command, which applies detection batches from a
// JSON file and dispatches the resulting notifications.
func Command(settings *conf.Settings) *cobra.Command {
	var noNotify bool

	cmd := &cobra.Command{
		Use:   "ingest [detections.json]",
		Short: "Apply detection batches from a JSON file",
		Long: `Reads a JSON array of detection batches and applies each to the media
record it names, creating the record when the storage reference is new.
Matching subscriptions are notified unless --no-notify is given. Use "-"
to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), settings, args[0], noNotify)
		},
	}

	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "Skip notification dispatch")
	return cmd
}

func runIngest(ctx context.Context, settings *conf.Settings, path string, noNotify bool) error {
	batches, err := readBatches(path)
	if err != nil {
		return err
	}

	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database output enabled in configuration")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	telemetry, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	var bus *events.EventBus
	if !noNotify && settings.Notification.Enabled {
		bus = events.NewEventBus(&events.Config{
			BufferSize: settings.Notification.QueueSize,
			Workers:    settings.Notification.Workers,
			Enabled:    true,
		})

		registry := subscription.NewRegistry(store, &settings.Subscriptions)
		dispatcher, err := notification.NewDispatcher(store, registry, nil, &settings.Notification, telemetry.Notification)
		if err != nil {
			return err
		}
		defer func() { _ = dispatcher.Close() }()

		if err := bus.RegisterConsumer(dispatcher); err != nil {
			return err
		}
	}

	service := media.NewService(store, bus, telemetry.Media)

	applied := 0
	for i := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := applyBatch(ctx, service, &batches[i]); err != nil {
			return fmt.Errorf("batch %d (%s): %w", i, batches[i].StorageRef, err)
		}
		applied++
	}

	if bus != nil {
		if err := bus.Shutdown(drainTimeout); err != nil {
			return err
		}
	}

	fmt.Printf("applied %d detection batches\n", applied)
	return nil
}

// applyBatch resolves the batch's media record, creating it on first sight
// of the storage reference, and applies the detections.
func applyBatch(ctx context.Context, service *media.Service, b *batch) error {
	record, err := service.GetByStorageRef(ctx, b.StorageRef)
	switch {
	case err == nil:
	case errors.IsNotFound(err):
		if record, err = service.Create(ctx, b.FileType, b.StorageRef); err != nil {
			return err
		}
		if b.ThumbnailRef != "" {
			if err := service.SetThumbnail(ctx, record.ID, b.ThumbnailRef); err != nil {
				return err
			}
		}
	default:
		return err
	}

	if len(b.Detections) == 0 {
		return nil
	}
	_, _, err = service.ApplyDetections(ctx, record.ID, b.Detections)
	return err
}

func readBatches(path string) ([]batch, error) {
	var reader io.Reader
	if path == "-" {
		reader = os.Stdin
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = file.Close() }()
		reader = file
	}

	var batches []batch
	if err := json.NewDecoder(reader).Decode(&batches); err != nil {
		return nil, fmt.Errorf("parsing detection batches: %w", err)
	}
	return batches, nil
}
