package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/bryan-buckman/aurora/internal/apperr"
	"github.com/bryan-buckman/aurora/internal/model"
	"github.com/bryan-buckman/aurora/internal/rss"
	"github.com/bryan-buckman/aurora/internal/scheduler"
)

var (
	feedTitle    string
	feedCategory string
	feedsAll     bool
)

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "Manage feed subscriptions",
}

var feedsAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Subscribe to a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := rss.ValidateFeedURL(args[0]); err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var category *string
		if feedCategory != "" {
			category = &feedCategory
		}
		feed, err := a.db.CreateFeed(cmd.Context(), args[0], feedTitle, category)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", feed.Title, feed.ID)
		return nil
	},
}

var feedsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List feeds with their fetch status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		feeds, err := a.db.ListFeeds(cmd.Context())
		if err != nil {
			return err
		}
		if !feedsAll {
			feeds = lo.Filter(feeds, func(f model.Feed, _ int) bool {
				return f.ErrorCount < scheduler.MaxFeedErrors
			})
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"ID", "Title", "Last Fetched", "Errors", "Status"})
		for _, f := range feeds {
			fetched := "never"
			if f.LastFetchedAt != nil {
				fetched = humanize.Time(*f.LastFetchedAt)
			}
			t.AppendRow(table.Row{
				f.ID,
				rss.Truncate(f.Title, 40),
				fetched,
				f.ErrorCount,
				rss.Truncate(lo.FromPtr(f.LastStatus), 60),
			})
		}
		t.Render()
		return nil
	},
}

var feedsResetCmd = &cobra.Command{
	Use:   "reset <feed-id>",
	Short: "Clear a feed's error count so sweeps include it again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.db.ResetFeedErrors(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Reset", args[0])
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <feed-id|url>",
	Short: "Fetch one feed now",
	Long: `Fetches a single feed and stores its new entries. A URL argument
subscribes to the feed first when it is not known yet.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		feedID := args[0]
		if strings.Contains(feedID, "://") {
			if err := rss.ValidateFeedURL(feedID); err != nil {
				return err
			}
			feed, created, err := a.db.GetOrCreateFeed(ctx, feedID, "")
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Subscribed to %s (%s)\n", feed.URL, feed.ID)
			}
			feedID = feed.ID
		}

		res, err := a.fetcher.FetchFeed(ctx, feedID)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, apperr.ErrNotFound) {
				if rerr := a.db.RecordFeedFailure(context.WithoutCancel(ctx), feedID, rss.StatusText(err), time.Now()); rerr != nil {
					a.log.Error("Failed to record feed failure", "feed_id", feedID, "error", rerr)
				}
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d entries, %d new, %s\n",
			res.EntriesCount, res.NewEntriesCount, time.Duration(res.ElapsedMs)*time.Millisecond)
		return nil
	},
}

func init() {
	feedsAddCmd.Flags().StringVar(&feedTitle, "title", "", "feed title (defaults to the URL until the first fetch)")
	feedsAddCmd.Flags().StringVar(&feedCategory, "category", "", "feed category")
	feedsListCmd.Flags().BoolVar(&feedsAll, "all", false, "include feeds excluded from sweeps")

	feedsCmd.AddCommand(feedsAddCmd)
	feedsCmd.AddCommand(feedsListCmd)
	feedsCmd.AddCommand(feedsResetCmd)
}
