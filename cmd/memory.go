package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/prism-chat/prism/internal/app"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and manage long-term memory",
}

func init() {
	memoryCmd.AddCommand(&cobra.Command{
		Use:   "list <user-id>",
		Short: "List everything remembered about a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runMemoryList(ctx, a, args[0])
			})
		},
	})
	memoryCmd.AddCommand(&cobra.Command{
		Use:   "forget <user-id> <key>",
		Short: "Delete one remembered fact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runMemoryForget(ctx, a, args[0], args[1])
			})
		},
	})

	rootCmd.AddCommand(memoryCmd)
}

func runMemoryList(ctx context.Context, a *app.App, rawID string) error {
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("user ID must be a UUID: %w", err)
	}

	memories, err := a.Store.ListMemories(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing memories: %w", err)
	}
	if len(memories) == 0 {
		fmt.Println("Nothing remembered yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE\tCONFIDENCE\tUPDATED")
	for _, m := range memories {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n",
			m.Key, m.Value, m.Confidence, m.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runMemoryForget(ctx context.Context, a *app.App, rawID, key string) error {
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("user ID must be a UUID: %w", err)
	}
	if err := a.Store.DeleteMemory(ctx, userID, key); err != nil {
		return err
	}
	fmt.Println("Forgotten.")
	return nil
}
