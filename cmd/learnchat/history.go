package main

import (
	"fmt"
	"strings"

	"LearnChat/internal/config"
	"LearnChat/internal/store"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		dbPath   = config.LoadRelay().DBPath
		username string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent exchanges from the relay's log",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			exchanges, err := db.Recent(cmd.Context(), username, limit)
			if err != nil {
				return err
			}
			if len(exchanges) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No exchanges recorded.")
				return nil
			}

			rows := make([][]string, 0, len(exchanges))
			for _, e := range exchanges {
				outcome := "answered"
				switch {
				case e.Error != "":
					outcome = "failed"
				case e.Cached:
					outcome = "cached"
				}
				rows = append(rows, []string{
					e.CreatedAt.Format("2006-01-02 15:04:05"),
					e.Username,
					e.Provider,
					fmt.Sprintf("%d", e.Duration.Milliseconds()),
					truncate(e.Message, 48),
					outcome,
				})
			}

			out := cmd.OutOrStdout()
			t := table.New().
				Border(lipgloss.RoundedBorder()).
				BorderStyle(lipgloss.NewRenderer(out).NewStyle().Foreground(lipgloss.Color("62"))).
				Headers("TIME", "USER", "PROVIDER", "MS", "QUESTION", "OUTCOME").
				Rows(rows...)
			_, err = fmt.Fprintln(out, t)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dbPath, "db", dbPath, "SQLite exchange log path")
	flags.StringVar(&username, "user", "", "Only show exchanges of this user")
	flags.IntVar(&limit, "limit", 20, "Maximum number of exchanges to show")

	return cmd
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
