package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cleansweep/internal/app"
	"cleansweep/internal/db"
	"cleansweep/internal/domain"
	"cleansweep/internal/engine"
	"cleansweep/internal/migrate"
	"cleansweep/internal/repo"
	"cleansweep/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cs",
	Short: "CleanSweep CLI",
	Long: `CleanSweep keeps short-term rental cleaning schedules in lockstep with
booking calendars. It pulls each listing's ICS feed, diffs the bookings
against the stored schedule (new stays, extensions, cancellations), expands
manual recurring rules, and merges everything into one cleaning schedule
per listing. Cleaners get read-only share links; every change is recorded
in the event log.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("CLEANSWEEP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(hostCmd())
	rootCmd.AddCommand(listingCmd())
	rootCmd.AddCommand(cleanerCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(pruneCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(viper.GetString("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func hostCmd() *cobra.Command {
	host := &cobra.Command{Use: "host", Short: "Manage the host workspace"}
	host.AddCommand(hostInitCmd())
	host.AddCommand(hostShowCmd())
	return host
}

func hostInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace config and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = uuid.NewString()
			}
			workspace := viper.GetString("workspace")
			path, err := app.InitConfig(workspace, id)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			if _, err := app.ResolveHostAndConfig(cmd.Context(), workspace, repo.Repo{DB: conn}); err != nil {
				return err
			}
			fmt.Printf("Initialized host %s; config written to %s\n", id, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "host id (generated when omitted)")
	return cmd
}

func hostShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSON(e.Config)
			})
		},
	}
}

func listingCmd() *cobra.Command {
	listing := &cobra.Command{Use: "listing", Short: "Manage listings"}
	listing.AddCommand(listingCreateCmd())
	listing.AddCommand(listingListCmd())
	listing.AddCommand(listingShowCmd())
	listing.AddCommand(listingUpdateCmd())
	listing.AddCommand(listingDeleteCmd())
	listing.AddCommand(listingAssignCmd())
	return listing
}

func listingCreateCmd() *cobra.Command {
	var name, feedURL, timezone, checkoutTime string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				l, err := e.CreateListing(ctx, engine.ListingCreateOptions{
					Name:         name,
					FeedURL:      feedURL,
					Timezone:     timezone,
					CheckoutTime: checkoutTime,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(l)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "listing name")
	cmd.Flags().StringVar(&feedURL, "feed-url", "", "ICS calendar feed URL")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone")
	cmd.Flags().StringVar(&checkoutTime, "checkout-time", "", "checkout time HH:MM")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func listingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListListings(ctx, e.Config.Host.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"ID", "NAME", "TIMEZONE", "CHECKOUT", "FEED", "LAST SYNC"})
				for _, l := range items {
					feedCol := ""
					if l.FeedURL != "" {
						feedCol = "yes"
					}
					lastSync := ""
					if l.LastSyncAt != nil {
						lastSync = l.LastSyncAt.Format(time.RFC3339)
					}
					t.AppendRow(table.Row{l.ID, l.Name, l.Timezone, l.CheckoutTime, feedCol, lastSync})
				}
				t.Render()
				return nil
			})
		},
	}
}

func listingShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <listing_id>",
		Short: "Show a listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				l, err := e.Repo.GetListing(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(l)
			})
		},
	}
}

func listingUpdateCmd() *cobra.Command {
	var name, feedURL, timezone, checkoutTime string
	cmd := &cobra.Command{
		Use:   "update <listing_id>",
		Short: "Update a listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				var namePtr, feedPtr, tzPtr, coPtr *string
				if cmd.Flags().Changed("name") {
					namePtr = &name
				}
				if cmd.Flags().Changed("feed-url") {
					feedPtr = &feedURL
				}
				if cmd.Flags().Changed("timezone") {
					tzPtr = &timezone
				}
				if cmd.Flags().Changed("checkout-time") {
					coPtr = &checkoutTime
				}
				if err := e.Repo.UpdateListing(ctx, args[0], namePtr, feedPtr, tzPtr, coPtr); err != nil {
					return err
				}
				l, err := e.Repo.GetListing(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(l)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "listing name")
	cmd.Flags().StringVar(&feedURL, "feed-url", "", "ICS calendar feed URL (empty to clear)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone")
	cmd.Flags().StringVar(&checkoutTime, "checkout-time", "", "checkout time HH:MM")
	return cmd
}

func listingDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <listing_id>",
		Short: "Delete a listing and its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.Repo.DeleteListing(ctx, args[0])
			})
		},
	}
}

func listingAssignCmd() *cobra.Command {
	var cleanerID string
	cmd := &cobra.Command{
		Use:   "assign <listing_id>",
		Short: "Assign default cleaner to a listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if _, err := e.Repo.GetCleaner(ctx, cleanerID); err != nil {
					return err
				}
				return e.Repo.AssignCleaner(ctx, args[0], cleanerID, e.Now())
			})
		},
	}
	cmd.Flags().StringVar(&cleanerID, "cleaner", "", "cleaner id")
	_ = cmd.MarkFlagRequired("cleaner")
	return cmd
}

func cleanerCmd() *cobra.Command {
	cleaner := &cobra.Command{Use: "cleaner", Short: "Manage cleaners"}
	cleaner.AddCommand(cleanerCreateCmd())
	cleaner.AddCommand(cleanerListCmd())
	return cleaner
}

func cleanerCreateCmd() *cobra.Command {
	var name, phone string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a cleaner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.CreateCleaner(ctx, name, phone, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "cleaner name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func cleanerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cleaners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListCleaners(ctx, e.Config.Host.ID)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
}

func ruleCmd() *cobra.Command {
	rule := &cobra.Command{
		Use:   "rule",
		Short: "Manage manual schedule rules",
		Long:  "Manual rules add recurring or one-off cleanings independent of bookings: weekly on chosen weekdays, monthly on a day of the month (clamped to short months), or every N days.",
	}
	rule.AddCommand(ruleCreateCmd())
	rule.AddCommand(ruleListCmd())
	rule.AddCommand(ruleOccurrencesCmd())
	rule.AddCommand(ruleDeactivateCmd())
	rule.AddCommand(ruleDeleteCmd())
	return rule
}

func ruleCreateCmd() *cobra.Command {
	var (
		listingID, cleanerID, scheduleType, frequency string
		daysOfWeek                                    []int
		dayOfMonth, intervalDays                      int
		cleaningTime, startDate, endDate, notes       string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a manual schedule rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse("2006-01-02", startDate)
			if err != nil {
				return fmt.Errorf("--start-date must be YYYY-MM-DD")
			}
			var endPtr *time.Time
			if endDate != "" {
				end, err := time.Parse("2006-01-02", endDate)
				if err != nil {
					return fmt.Errorf("--end-date must be YYYY-MM-DD")
				}
				endPtr = &end
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rule, err := e.CreateRule(ctx, engine.RuleCreateOptions{
					ListingID:          listingID,
					CleanerID:          cleanerID,
					ScheduleType:       scheduleType,
					Frequency:          frequency,
					DaysOfWeek:         daysOfWeek,
					DayOfMonth:         dayOfMonth,
					CustomIntervalDays: intervalDays,
					CleaningTime:       cleaningTime,
					StartDate:          start,
					EndDate:            endPtr,
					Notes:              notes,
					ActorID:            viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(rule)
			})
		},
	}
	cmd.Flags().StringVar(&listingID, "listing", "", "listing id")
	cmd.Flags().StringVar(&cleanerID, "cleaner", "", "cleaner id")
	cmd.Flags().StringVar(&scheduleType, "type", "recurring", "schedule type (recurring, one_time)")
	cmd.Flags().StringVar(&frequency, "frequency", "", "frequency (weekly, monthly, custom)")
	cmd.Flags().IntSliceVar(&daysOfWeek, "days", nil, "weekdays 0-6, 0=Sunday (weekly)")
	cmd.Flags().IntVar(&dayOfMonth, "day-of-month", 0, "day of month 1-31 (monthly)")
	cmd.Flags().IntVar(&intervalDays, "interval", 0, "interval in days (custom)")
	cmd.Flags().StringVar(&cleaningTime, "time", "", "cleaning time HH:MM")
	cmd.Flags().StringVar(&startDate, "start-date", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&endDate, "end-date", "", "end date YYYY-MM-DD")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("listing")
	_ = cmd.MarkFlagRequired("cleaner")
	_ = cmd.MarkFlagRequired("start-date")
	return cmd
}

func ruleListCmd() *cobra.Command {
	var listingID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules for a listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rules, err := e.Repo.ListRules(ctx, listingID)
				if err != nil {
					return err
				}
				return printJSON(rules)
			})
		},
	}
	cmd.Flags().StringVar(&listingID, "listing", "", "listing id")
	_ = cmd.MarkFlagRequired("listing")
	return cmd
}

func ruleOccurrencesCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "occurrences <rule_id>",
		Short: "Preview rule occurrences in a window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rule, err := e.Repo.GetRule(ctx, args[0])
				if err != nil {
					return err
				}
				fromT, toT, err := resolveWindow(from, to, e.Now(), e.Config.WindowDays())
				if err != nil {
					return err
				}
				var occurrences []domain.Occurrence
				for occ := range engine.Expand(rule, fromT, toT) {
					occurrences = append(occurrences, occ)
				}
				return printJSON(occurrences)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "window end YYYY-MM-DD")
	return cmd
}

func ruleDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <rule_id>",
		Short: "Deactivate a rule and prune its unstarted items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				pruned, err := e.DeactivateRule(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Rule deactivated; %d items pruned\n", pruned)
				return nil
			})
		},
	}
}

func ruleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule_id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				pruned, err := e.DeleteRule(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Rule deleted; %d items pruned\n", pruned)
				return nil
			})
		},
	}
}

func syncCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sync [listing_id]",
		Short: "Reconcile listing feeds into the schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("listing id or --all required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actorID := viper.GetString("actor-id")
				if all {
					reports, err := e.SyncAll(ctx, actorID)
					if printErr := printJSON(reports); printErr != nil {
						return printErr
					}
					return err
				}
				report, err := e.Sync(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "sync every listing with a feed")
	return cmd
}

func scheduleCmd() *cobra.Command {
	var from, to, source string
	cmd := &cobra.Command{
		Use:   "schedule <listing_id>",
		Short: "Show a listing's cleaning schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				fromT, toT, err := resolveWindow(from, to, e.Now(), e.Config.WindowDays())
				if err != nil {
					return err
				}
				items, err := e.Repo.ListItemsInRange(ctx, args[0],
					fromT.UTC().Format(time.RFC3339), toT.UTC().Format(time.RFC3339))
				if err != nil {
					return err
				}
				if source != "" {
					filtered := items[:0]
					for _, it := range items {
						if it.Source == source {
							filtered = append(filtered, it)
						}
					}
					items = filtered
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"ID", "DATE", "TIME", "STATUS", "SOURCE", "GUEST", "EXT"})
				for _, it := range items {
					ext := ""
					if it.IsExtended {
						ext = fmt.Sprintf("x%d", it.ExtensionCount)
					}
					t.AppendRow(table.Row{
						it.ID, it.CheckOut.Format("2006-01-02"), it.CheckoutTime,
						it.Status, it.Source, it.GuestName, ext,
					})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "window end YYYY-MM-DD")
	cmd.Flags().StringVar(&source, "source", "", "filter by source (booking, manual_one_time, manual_recurring)")
	return cmd
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Manage schedule items"}
	item.AddCommand(itemShowCmd())
	item.AddCommand(itemCompleteCmd())
	item.AddCommand(itemUncompleteCmd())
	item.AddCommand(itemCancelCmd())
	item.AddCommand(itemReopenCmd())
	item.AddCommand(itemFeedbackCmd())
	return item
}

func itemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <item_id>",
		Short: "Show a schedule item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				it, err := e.Repo.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(it)
			})
		},
	}
}

func itemCompleteCmd() *cobra.Command {
	var rating int
	var notes string
	cmd := &cobra.Command{
		Use:   "complete <item_id>",
		Short: "Mark a cleaning completed, optionally with feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				var fb *engine.FeedbackInput
				if cmd.Flags().Changed("rating") {
					fb = &engine.FeedbackInput{CleanlinessRating: rating, Notes: notes}
				}
				it, err := e.CompleteItem(ctx, args[0], fb, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(it)
			})
		},
	}
	cmd.Flags().IntVar(&rating, "rating", 0, "cleanliness rating 1-5")
	cmd.Flags().StringVar(&notes, "notes", "", "feedback notes")
	return cmd
}

func itemUncompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uncomplete <item_id>",
		Short: "Undo a completion (feedback is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				it, err := e.UndoComplete(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(it)
			})
		},
	}
}

func itemCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <item_id>",
		Short: "Cancel a schedule item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				it, err := e.CancelItem(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(it)
			})
		},
	}
}

func itemReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <item_id>",
		Short: "Reopen a cancelled item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				it, err := e.ReopenItem(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(it)
			})
		},
	}
}

func itemFeedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <item_id>",
		Short: "List feedback for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				recs, err := e.Repo.ListFeedback(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(recs)
			})
		},
	}
}

func pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune <listing_id>",
		Short: "Remove orphaned manual items without history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				n, err := e.PruneOrphanedManualItems(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Pruned %d items\n", n)
				return nil
			})
		},
	}
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if actorID == "" {
					actorID = viper.GetString("actor-id")
				}
				raw := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("API key %s created for %s:\n%s\n", key.ID, actorID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSON(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key_id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, e.Config.Host.ID, entityKind, entityID, n)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noCron bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server with the background sync loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := app.ResolveHostAndConfig(cmd.Context(), workspace, repo.Repo{DB: conn})
			if err != nil {
				return err
			}
			log := newLogger()
			e := engine.New(conn, cfg, log)

			jwtSecret := cfg.Auth.JWTSecret
			if s := os.Getenv("CLEANSWEEP_JWT_SECRET"); s != "" {
				jwtSecret = s
			}
			if jwtSecret == "" {
				return fmt.Errorf("jwt secret required: set auth.jwt_secret or CLEANSWEEP_JWT_SECRET")
			}
			authCfg := server.AuthConfig{
				JWTSecret:              jwtSecret,
				ShareTokenTTL:          time.Duration(cfg.Auth.ShareTokenTTLDays) * 24 * time.Hour,
				AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
				Logger:                 log,
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}

			if !noCron && cfg.Sync.Cron != "" {
				c := cron.New()
				_, err := c.AddFunc(cfg.Sync.Cron, func() {
					if _, err := e.SyncAll(context.Background(), "cron"); err != nil {
						log.Error("scheduled sync failed", "err", err)
					}
				})
				if err != nil {
					return fmt.Errorf("invalid sync.cron %q: %w", cfg.Sync.Cron, err)
				}
				c.Start()
				defer c.Stop()
			}

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving CleanSweep API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noCron, "no-cron", false, "disable the scheduled sync loop")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.ResolveHostAndConfig(ctx, workspace, repo.Repo{DB: conn})
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, newLogger())
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func resolveWindow(from, to string, now time.Time, windowDays int) (time.Time, time.Time, error) {
	fromT := now.UTC().Truncate(24 * time.Hour)
	if from != "" {
		parsed, err := time.Parse("2006-01-02", from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--from must be YYYY-MM-DD")
		}
		fromT = parsed
	}
	toT := fromT.AddDate(0, 0, windowDays)
	if to != "" {
		parsed, err := time.Parse("2006-01-02", to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--to must be YYYY-MM-DD")
		}
		toT = parsed
	}
	toT = toT.AddDate(0, 0, 1).Add(-time.Second)
	if toT.Before(fromT) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to is before --from")
	}
	return fromT, toT, nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
