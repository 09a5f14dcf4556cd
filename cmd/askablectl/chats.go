package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sahilchouksey/askable/app"
	"github.com/sahilchouksey/askable/model"
	"github.com/sahilchouksey/askable/services/chatstore"
)

var showRaw bool

var showCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Print one conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *chatstore.Store) error {
			chat, err := store.Load(ctx, args[0])
			if errors.Is(err, chatstore.ErrChatNotFound) {
				return fmt.Errorf("chat %s not found", args[0])
			}
			if err != nil {
				return err
			}
			if showRaw {
				raw, err := model.EncodeChat(chat)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return err
			}
			renderChat(cmd.OutOrStdout(), args[0], chat)
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <chat-id>...",
	Short: "List titles for chat ids, newest first",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *chatstore.Store) error {
			renderHistory(cmd.OutOrStdout(), store.History(ctx, args))
			return nil
		})
	},
}

func init() {
	showCmd.Flags().BoolVar(&showRaw, "raw", false, "Print the stored JSON blob")
}

// withStore opens CHAT_STORE for the duration of fn.
func withStore(parent context.Context, fn func(ctx context.Context, store *chatstore.Store) error) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	backend, closeStore, err := app.OpenChatStore(ctx, env)
	if err != nil {
		return fmt.Errorf("failed to open chat store: %w", err)
	}
	defer closeStore()

	return fn(ctx, chatstore.New(backend, nil))
}

func renderChat(w io.Writer, id string, chat *model.ChatData) {
	title := chat.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintln(w, titleStyle.Render(title))
	fmt.Fprintln(w, idStyle.Render(id))
	if chat.CreatedAt != nil {
		fmt.Fprintln(w, dateStyle.Render(chat.CreatedAt.Format(time.RFC3339)))
	}
	if len(chat.CSVHeaders) > 0 {
		fmt.Fprintf(w, "Columns: %s (%s rows)\n",
			strings.Join(chat.CSVHeaders, ", "),
			countStyle.Render(fmt.Sprint(len(chat.CSVRows))),
		)
	}
	if chat.CSVFileURL != "" {
		fmt.Fprintf(w, "File: %s\n", chat.CSVFileURL)
	}
	fmt.Fprintln(w)

	for _, msg := range chat.Messages {
		fmt.Fprintln(w, messageHeader(msg))
		if msg.Content != "" {
			fmt.Fprintln(w, msg.Content)
		}
		if tc := msg.ToolCall; tc != nil {
			fmt.Fprintln(w, codeStyle.Render(tc.Args.Code))
			if tc.Result != nil {
				fmt.Fprintln(w, resultLine(*tc.Result))
			}
		}
		fmt.Fprintln(w)
	}
}

func messageHeader(msg model.Message) string {
	var b strings.Builder
	if msg.Role == model.MessageRoleUser {
		b.WriteString(userStyle.Render("user"))
	} else {
		b.WriteString(assistantStyle.Render("assistant"))
	}
	if msg.Model != "" {
		b.WriteString(" " + idStyle.Render(msg.Model))
	}
	if msg.IsAutoErrorResolution {
		b.WriteString(" " + dateStyle.Render("[auto fix]"))
	}
	if msg.Duration != nil {
		b.WriteString(" " + dateStyle.Render(fmt.Sprintf("%.1fs", *msg.Duration)))
	}
	return b.String()
}

func resultLine(res model.ExecutionResult) string {
	if !res.Failed() {
		return countStyle.Render(string(res.Outcome()))
	}
	return errorStyle.Render(fmt.Sprintf("%s: %s", res.Outcome(), res.ErrorMessage))
}

func renderHistory(w io.Writer, items []chatstore.HistoryItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No chats found.")
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d chats", len(items))))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", item.ID, item.Title, item.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
}
