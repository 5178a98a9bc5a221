package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/relayr/pkg/client"
)

func listStreams(ctx context.Context, c *client.Client) error {
	streams, err := c.ListStreams(ctx)
	if err != nil {
		return err
	}
	printJSON(map[string]any{"streams": streams})
	return nil
}

func addStream(ctx context.Context, f AddFlags, c *client.Client) error {
	key := strings.TrimSpace(f.StreamKey)
	if key == "" {
		return errors.New("stream key is required")
	}
	res, err := c.AddStream(ctx, client.AddRequest{
		StreamKey:  key,
		StreamName: strings.TrimSpace(f.Name),
		SourceURL:  strings.TrimSpace(f.Source),
	})
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

func stopStream(ctx context.Context, id string, c *client.Client) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("stream id is required")
	}
	res, err := c.StopStream(ctx, id)
	if err != nil {
		return fmt.Errorf("stop %s: %w", id, err)
	}
	printJSON(res)
	return nil
}

func deleteStream(ctx context.Context, id string, c *client.Client) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("stream id is required")
	}
	res, err := c.DeleteStream(ctx, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	printJSON(res)
	return nil
}

// streamLogs prints one line per log entry rather than JSON.
func streamLogs(ctx context.Context, id string, c *client.Client) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("stream id is required")
	}
	lines, err := c.StreamLogs(ctx, id)
	if err != nil {
		return fmt.Errorf("logs %s: %w", id, err)
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}
