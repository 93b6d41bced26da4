package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nhle/fleetdash/internal/model"
	"github.com/nhle/fleetdash/internal/theme"
)

var (
	listType   string
	listStatus string
	listSearch string
	listSort   string
	listJSON   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Fetch the feed once and print the filtered view",
	Example: `  fleetdash list --status unread
  fleetdash list --type alert --search VEH-12 --json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listType, "type", "", "Type filter: all, alert, success, info, default")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Status filter: all, unread, read")
	listCmd.Flags().StringVar(&listSearch, "search", "", "Case-insensitive title/message search")
	listCmd.Flags().StringVar(&listSort, "sort", "", "Sort order: newest, oldest")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON instead of a table")
}

// parseListFilter builds the filter from flags, falling back to the
// configured display filter for anything left empty.
func parseListFilter(base model.FeedFilter, typ, status, search, sort string) (model.FeedFilter, error) {
	f := base.Normalized()
	if typ != "" {
		t, err := model.ParseTypeFilter(typ)
		if err != nil {
			return f, err
		}
		f.Type = t
	}
	if status != "" {
		s, err := model.ParseStatusFilter(status)
		if err != nil {
			return f, err
		}
		f.Status = s
	}
	if search != "" {
		f.Search = search
	}
	if sort != "" {
		o, err := model.ParseSortOrder(sort)
		if err != nil {
			return f, err
		}
		f.SortBy = o
	}
	return f, nil
}

func runList(cmd *cobra.Command, args []string) error {
	filter, err := parseListFilter(cfg.Display.Filter, listType, listStatus, listSearch, listSort)
	if err != nil {
		return err
	}

	log := newLogger(os.Stderr)
	sess, err := newSession(cmd.Context(), cfg, log, false)
	if err != nil {
		return err
	}
	defer sess.close()

	if err := sess.channel.Resync(cmd.Context()); err != nil {
		return fmt.Errorf("fetching notifications: %w", err)
	}

	items := sess.store.Project(filter)
	if listJSON {
		return printJSON(cmd.OutOrStdout(), items)
	}
	printTable(cmd.OutOrStdout(), items, time.Now())
	return nil
}

func printJSON(w io.Writer, items []model.Notification) error {
	if items == nil {
		items = []model.Notification{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

func printTable(w io.Writer, items []model.Notification, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No notifications match the filter.")
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.ColorBorder)).
		Headers("", "TYPE", "TITLE", "RECEIVED", "ID").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			if col == 1 && row >= 0 && row < len(items) {
				return theme.TypeStyle(items[row].Type).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	for _, n := range items {
		marker := " "
		if !n.Read {
			marker = "●"
		}
		t.Row(marker, theme.TypeLabel(n.Type), n.Title, n.Timestamp.Local().Format(time.DateTime), n.ID)
	}

	fmt.Fprintln(w, t.Render())
	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}
	fmt.Fprintf(w, "%d shown, %d unread (as of %s)\n", len(items), unread, now.Format(time.Kitchen))
}
