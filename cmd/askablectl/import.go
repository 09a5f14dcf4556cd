package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sahilchouksey/askable/app"
	"github.com/sahilchouksey/askable/services"
	"github.com/sahilchouksey/askable/services/chatstore"
	"github.com/sahilchouksey/askable/services/dataset"
	"github.com/sahilchouksey/askable/services/execution"
)

// sampleRows matches what the web client keeps inline with a chat.
const sampleRows = 4

var (
	importQuestion string
	importNoUpload bool
)

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Create a chat from a local CSV file",
	Long: `Create a chat from a local CSV file. A few evenly spaced rows are stored
inline with the chat. When DO_SPACES_* is configured the full file is uploaded
and referenced from the chat, so generated code runs on every row.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		headers, rows, err := dataset.ParseCSV(f)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		env, err := loadEnv()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(commandContext(cmd), timeout)
		defer cancel()

		params := chatstore.CreateParams{
			UserQuestion: importQuestion,
			CSVHeaders:   headers,
			CSVRows:      dataset.Sample(rows, sampleRows),
		}

		if cfg, ok := dataset.SpacesConfigFromEnv(env); ok && !importNoUpload {
			spaces, err := dataset.NewSpacesClient(cfg)
			if err != nil {
				return fmt.Errorf("failed to connect to Spaces: %w", err)
			}
			key := fmt.Sprintf("datasets/%s/%s", uuid.NewString(), execution.SafeName(filepath.Base(args[0])))
			url, err := spaces.UploadBytes(ctx, key, []byte(dataset.BuildCSV(headers, rows)), "text/csv")
			if err != nil {
				return err
			}
			params.CSVFileURL = url
		}

		registry, err := app.NewRegistry(env)
		if err != nil {
			return err
		}
		backend, closeStore, err := app.OpenChatStore(ctx, env)
		if err != nil {
			return fmt.Errorf("failed to open chat store: %w", err)
		}
		defer closeStore()

		store := chatstore.New(backend, services.NewTitleService(registry, env.TITLE_MODEL))
		id := store.Create(ctx, params)

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render("Chat created"))
		fmt.Fprintln(out, idStyle.Render(id))
		fmt.Fprintf(out, "Columns: %s (%s rows, %d kept inline)\n",
			strings.Join(headers, ", "),
			countStyle.Render(fmt.Sprint(len(rows))),
			len(params.CSVRows),
		)
		if params.CSVFileURL != "" {
			fmt.Fprintf(out, "File: %s\n", params.CSVFileURL)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVarP(&importQuestion, "question", "q", "", "First question, used for the chat title")
	importCmd.Flags().BoolVar(&importNoUpload, "no-upload", false, "Keep only the inline sample even when Spaces is configured")
	_ = importCmd.MarkFlagRequired("question")
}
