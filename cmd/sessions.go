package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/prism-chat/prism/internal/app"
	"github.com/prism-chat/prism/internal/config"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage chat sessions",
}

var sessionsUser string

func init() {
	sessionsCmd.PersistentFlags().StringVar(&sessionsUser, "user", "", "user ID (required for list)")

	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List a user's sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), runSessionsList)
		},
	})
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runSessionsShow(ctx, a, args[0])
			})
		},
	})
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runSessionsDelete(ctx, a, args[0])
			})
		},
	})

	rootCmd.AddCommand(sessionsCmd)
}

// withApp runs fn against a fully initialized application.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a, err := app.Setup(ctx, cfg, newLogger(false))
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()
	return fn(ctx, a)
}

func runSessionsList(ctx context.Context, a *app.App) error {
	userID, err := uuid.Parse(sessionsUser)
	if err != nil {
		return fmt.Errorf("--user must be a UUID: %w", err)
	}

	sessions, err := a.Store.ListSessions(ctx, userID, 100)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tPROVIDER\tMODEL\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Title, s.ModelProvider, s.ModelName,
			s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runSessionsShow(ctx context.Context, a *app.App, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("session ID must be a UUID: %w", err)
	}

	sess, err := a.Store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	msgs, err := a.Store.GetMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	fmt.Printf("%s (%s/%s)\n\n", sess.Title, sess.ModelProvider, sess.ModelName)
	for _, m := range msgs {
		fmt.Printf("[%d] %s:\n%s\n\n", m.SequenceNumber, m.Role, m.Content)
	}
	return nil
}

func runSessionsDelete(ctx context.Context, a *app.App, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("session ID must be a UUID: %w", err)
	}
	if err := a.Store.DeleteSession(ctx, id); err != nil {
		return err
	}
	fmt.Println("Deleted.")
	return nil
}
