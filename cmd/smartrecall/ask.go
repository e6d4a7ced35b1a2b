package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/smartrecall/internal/agent"
	"github.com/ashureev/smartrecall/internal/app"
	"github.com/ashureev/smartrecall/internal/domain"
)

func (c *cli) newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Run one assistant turn",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := agent.TurnRequest{
				SessionID:      c.v.GetString(keySession),
				ChatID:         c.v.GetString(keyChat),
				Message:        strings.Join(args, " "),
				UseSmartRecall: !c.v.GetBool(keyNoCache),
				Profile:        c.v.GetString(keyProfile),
			}
			return c.withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.Service.HandleTurn(cmd.Context(), req)
				if err != nil {
					return err
				}
				return c.print(cmd, res, formatTurn(res))
			})
		},
	}
	cmd.Flags().String(keySession, "cli", "session id")
	cmd.Flags().String(keyChat, domain.DefaultChatID, "chat id within the session")
	cmd.Flags().String(keyProfile, "", "assistant profile (general or grocery)")
	cmd.Flags().Bool(keyNoCache, false, "bypass the semantic cache")
	for _, k := range []string{keySession, keyChat, keyProfile, keyNoCache} {
		_ = c.v.BindPFlag(k, cmd.Flags().Lookup(k))
	}
	return cmd
}

func formatTurn(res domain.TurnResult) string {
	var b strings.Builder
	b.WriteString(res.Content)
	b.WriteString("\n\n")
	if res.IsCachedResponse {
		b.WriteString("[cached]")
	} else {
		fmt.Fprintf(&b, "[tools: %s]", strings.Join(res.ToolsUsed, ", "))
	}
	if res.CacheTopic != "" {
		fmt.Fprintf(&b, " [topic: %s]", res.CacheTopic)
	}
	for _, p := range res.FoundProducts {
		fmt.Fprintf(&b, "\n- %s by %s (ID: %s)", p.Name, p.Brand, p.ID)
	}
	return b.String()
}

func (c *cli) newEndSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end-session <session-id>",
		Short: "Delete a session's chats and cached answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.Service.EndSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.print(cmd, res, fmt.Sprintf("deleted sessions: %d\ncleared cache entries: %d",
					res.DeletedSessionsCount, res.ClearedCacheCount))
			})
		},
	}
}

func (c *cli) newSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session <session-id>",
		Short: "Show a stored session's chats and cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				sess, err := a.Store.GetSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.print(cmd, sess, formatSession(sess, time.Now()))
			})
		},
	}
}

func formatSession(sess *domain.Session, now time.Time) string {
	chatIDs := make([]string, 0, sess.ChatCount())
	for id := range sess.Chats {
		chatIDs = append(chatIDs, id)
	}
	sort.Strings(chatIDs)

	var b strings.Builder
	fmt.Fprintf(&b, "session: %s\nchats: %d\n", sess.SessionID, sess.ChatCount())
	for _, id := range chatIDs {
		fmt.Fprintf(&b, "- %s: %d messages\n", id, len(sess.Chats[id]))
	}
	fmt.Fprintf(&b, "cart lines: %d\nidle: %s", len(sess.Cart), sess.IdleFor(now).Truncate(time.Second))
	return b.String()
}
