package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/docshare/drive/internal/models"
	"github.com/docshare/drive/internal/services"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUser(w io.Writer, user *models.User) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", user.ID)
	fmt.Fprintf(tw, "Email:\t%s\n", user.Email)
	if user.DisplayName != "" {
		fmt.Fprintf(tw, "Name:\t%s\n", user.DisplayName)
	}
	fmt.Fprintf(tw, "Quota:\t%s\n", formatBytes(user.StorageQuota))
	fmt.Fprintf(tw, "Created:\t%s\n", user.CreatedAt.Format(time.RFC3339))
	tw.Flush()
}

func printQuota(w io.Writer, state services.QuotaState) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Quota:\t%s\n", formatBytes(state.Quota))
	fmt.Fprintf(tw, "Used:\t%s\t(%s)\n", formatBytes(state.Used), usagePercent(state))
	fmt.Fprintf(tw, "Available:\t%s\n", formatBytes(state.Available))
	tw.Flush()
}

func printReconcile(w io.Writer, result services.ReconcileResult) {
	if result.Before == result.After {
		fmt.Fprintf(w, "Used storage is consistent at %s.\n", formatBytes(result.After))
		return
	}
	fmt.Fprintf(w, "Used storage corrected from %s to %s.\n", formatBytes(result.Before), formatBytes(result.After))
}

func formatBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

func usagePercent(state services.QuotaState) string {
	if state.Quota <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", float64(state.Used)*100/float64(state.Quota))
}

// parseBytes accepts plain byte counts and humanized sizes such as 5GiB.
func parseBytes(value string) (int64, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", value, err)
	}
	if n > uint64(1<<63-1) {
		return 0, fmt.Errorf("size %q is too large", value)
	}
	return int64(n), nil
}

func parseUserID(value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id %q", value)
	}
	return id, nil
}
