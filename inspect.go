package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"webrtc101/internal/app/rooms"
)

func newRoomsCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:     "rooms",
		Aliases: []string{"ls"},
		Short:   "List the rooms of a running server",
		Long: `List the rooms a running server currently holds.

Examples:
  webrtc101 rooms
  webrtc101 rooms --server https://calls.example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			list, err := fetchRooms(ctx, http.DefaultClient, server)
			if err != nil {
				return err
			}
			renderRooms(cmd.OutOrStdout(), list)
			return nil
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "http://localhost:8080", "base URL of the server")
	return cmd
}

func fetchRooms(ctx context.Context, client *http.Client, server string) ([]rooms.Snapshot, error) {
	endpoint := strings.TrimSuffix(server, "/") + "/api/rooms"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", endpoint, resp.Status)
	}

	var body struct {
		Rooms []rooms.Snapshot `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return body.Rooms, nil
}

func renderRooms(w io.Writer, list []rooms.Snapshot) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No rooms")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Room", "Participants", "Sharer", "Created"})
	for i, snap := range list {
		sharer := snap.Sharer
		if sharer == "" {
			sharer = "-"
		}
		t.AppendRow(table.Row{
			i + 1,
			snap.ID,
			strings.Join(snap.Participants, ", "),
			sharer,
			snap.CreatedAt.Format(time.RFC3339),
		})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d rooms", len(list))})
	t.Render()
}
