package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/omomi/internal/config"
	"github.com/ashita-ai/omomi/internal/deferral"
	"github.com/ashita-ai/omomi/internal/event"
	"github.com/ashita-ai/omomi/internal/model"
	"github.com/ashita-ai/omomi/internal/store"
)

func defaultServerURL() string {
	if v := os.Getenv("OMOMI_URL"); v != "" {
		return v
	}
	return "http://localhost:8088"
}

func newEnqueueCmd() *cobra.Command {
	var (
		serverURL string
		durable   bool
		payload   string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <kind>",
		Short: "Send an event to a running engine",
		Long: `Send an event to a running engine. The payload is the event's JSON body,
for example:

  omomi enqueue message_flags --payload '{"account_id":1,"message_id":42}'
  omomi enqueue reindex --durable --payload '{"account_id":1,"object_kind":"message","object_id":42}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := event.ParseKind(args[0])
			if err != nil {
				return err
			}
			// Validate locally so typos fail before the round trip.
			if _, err := event.UnmarshalPayload(kind, []byte(payload)); err != nil {
				return err
			}
			if durable && !event.Durable(kind) {
				return fmt.Errorf("%s events cannot be queued durably", kind)
			}
			body, err := json.Marshal(map[string]any{
				"kind":    kind.String(),
				"durable": durable,
				"payload": json.RawMessage(payload),
			})
			if err != nil {
				return err
			}
			return postJSON(cmd.Context(), cmd.OutOrStdout(), strings.TrimRight(serverURL, "/")+"/api/events", body)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL(), "engine base URL")
	cmd.Flags().BoolVar(&durable, "durable", false, "queue through the durable event queue")
	cmd.Flags().StringVar(&payload, "payload", "{}", "event payload as JSON")
	return cmd
}

func postJSON(ctx context.Context, out io.Writer, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("server: %s (%d)", apiErr.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("server: status %d", resp.StatusCode)
	}
	_, err = out.Write(data)
	return err
}

func newDeferCmd() *cobra.Command {
	var (
		at   string
		from string
		tz   string
	)
	cmd := &cobra.Command{
		Use:   "defer <type>",
		Short: "Show when a message deferred now would reappear",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := deferral.ParseType(args[0])
			if err != nil {
				return err
			}
			loc, err := loadLocation(tz)
			if err != nil {
				return err
			}
			start := time.Now()
			if from != "" {
				if start, err = time.Parse(time.RFC3339, from); err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
			}
			var custom time.Time
			if t.NeedsDate() {
				if at == "" {
					return fmt.Errorf("%s deferral needs --at", t)
				}
				if custom, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}
			until, err := deferral.Compute(start, t, custom, loc)
			if err != nil {
				return err
			}
			if until.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), "not deferred")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), until.In(loc).Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "target time for custom and due_date deferrals (RFC3339)")
	cmd.Flags().StringVar(&from, "from", "", "defer as of this time instead of now (RFC3339)")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA time zone (default OMOMI_TIMEZONE)")
	return cmd
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		tz = os.Getenv("OMOMI_TIMEZONE")
	}
	if tz == "" || tz == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", tz, err)
	}
	return loc, nil
}

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts in the object store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <email>",
		Short: "Register an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.Store) error {
				id, err := s.InsertAccount(cmd.Context(), &model.Account{EmailAddr: args[0]})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %d: %s\n", id, args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(func(s *store.Store) error {
				accounts, err := s.ListAccounts(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tEMAIL")
				for _, a := range accounts {
					fmt.Fprintf(tw, "%d\t%s\n", a.ID, a.EmailAddr)
				}
				return tw.Flush()
			})
		},
	})
	return cmd
}

func withStore(fn func(*store.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return fn(store.New(db))
}
