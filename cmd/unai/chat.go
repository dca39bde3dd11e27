package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lowkaihon/unai/agent"
	"github.com/lowkaihon/unai/llm"
	"github.com/lowkaihon/unai/session"
	"github.com/lowkaihon/unai/ui"
)

type chatFlags struct {
	stream      bool
	images      []string
	upload      bool
	sessionID   string
	noSave      bool
	interactive bool
}

func newChatCmd(g *globalFlags) *cobra.Command {
	f := &chatFlags{}
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message, or start an interactive chat",
		Long: `Send a message to the configured model. Without a message, an
interactive chat starts when stdin is a terminal; otherwise stdin is read
as the message.`,
		Example: `  unai chat "Explain goroutines in one paragraph"
  unai chat --stream -p anthropic "Write a haiku about Go"
  unai chat --files . "Which packages import zerolog?"
  unai chat --image diagram.png "What does this diagram show?"
  unai chat --session last`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, g, f, args)
		},
	}
	cmd.Flags().BoolVarP(&f.stream, "stream", "s", true, "stream the response")
	cmd.Flags().StringArrayVar(&f.images, "image", nil, "attach an image file or URL (repeatable)")
	cmd.Flags().BoolVar(&f.upload, "upload", false, "upload attachments with the Gemini files API instead of inlining them")
	cmd.Flags().StringVar(&f.sessionID, "session", "", `resume a saved session by id, or "last"`)
	cmd.Flags().BoolVar(&f.noSave, "no-save", false, "do not persist the conversation")
	cmd.Flags().BoolVarP(&f.interactive, "interactive", "i", false, "stay in interactive mode after the first message")
	return cmd
}

func runChat(cmd *cobra.Command, g *globalFlags, f *chatFlags, args []string) error {
	a, err := newApp(cmd, g, true)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := a.context(cmd.Context())

	if err := a.setupClient(); err != nil {
		return err
	}
	if err := a.setupTools(ctx); err != nil {
		return err
	}
	if !f.noSave {
		if err := a.setupStore(ctx); err != nil {
			return err
		}
	}

	c := &chat{app: a, agent: a.newAgent(), stream: f.stream}
	if err := c.open(ctx, f.sessionID); err != nil {
		return err
	}

	var up uploader
	if f.upload {
		u, ok := a.client.(uploader)
		if !ok {
			return fmt.Errorf("provider %s does not support file upload", a.cfg.Provider)
		}
		up = u
	}

	text := strings.Join(args, " ")
	interactive := f.interactive || (text == "" && a.term.Interactive())
	if text == "" && !interactive {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = strings.TrimSpace(string(data))
		if text == "" {
			return errors.New("no message given")
		}
	}

	if text != "" {
		msg, err := userMessage(ctx, text, f.images, up)
		if err != nil {
			return err
		}
		if err := c.send(ctx, msg); err != nil {
			if !interactive {
				return err
			}
			a.term.PrintError(err)
		}
	}
	if !interactive {
		return nil
	}
	return c.repl(ctx)
}

// chat is one conversation with its persisted session.
type chat struct {
	app    *app
	agent  *agent.Agent
	stream bool
	sess   *session.Session
	usage  llm.Usage
}

func (c *chat) open(ctx context.Context, id string) error {
	if id == "" || c.app.store == nil {
		c.sess = session.New(c.app.cfg.Provider, c.app.model())
		return nil
	}
	if id == "last" {
		metas, err := c.app.store.List(ctx, 1)
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			return errors.New("no saved sessions")
		}
		id = metas[0].ID
	}
	s, err := c.app.store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("load session %s: %w", id, err)
	}
	c.sess = s
	c.app.term.PrintConversationHistory(s.Messages)
	c.app.term.PrintSessionResumed(s.Meta.MsgCount, s.Meta.Preview)
	return nil
}

// send runs one agent turn for msg and records it in the session. A system
// prompt is carried by the client options, not the history.
func (c *chat) send(ctx context.Context, msg llm.Message) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	history := append(append([]llm.Message(nil), c.sess.Messages...), msg)
	printer := c.app.term.NewStreamPrinter()
	printer.Start()

	var (
		resp *llm.Response
		err  error
	)
	if c.stream {
		var s *llm.Stream
		s, err = c.agent.ChatStream(ctx, history)
		if err == nil {
			resp, err = llm.Collect(s, printer.Update)
		}
		printer.Finish()
	} else {
		resp, err = c.agent.Chat(ctx, history)
		if err == nil {
			printer.Print(resp)
		} else {
			printer.Finish()
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return errors.New("operation cancelled")
		}
		return err
	}

	c.usage = c.usage.Add(resp.Usage)
	c.sess.Append(msg)
	c.sess.Append(resp.Data...)
	c.save(ctx)
	return nil
}

func (c *chat) save(ctx context.Context) {
	if c.app.store == nil {
		return
	}
	if err := c.app.store.Save(ctx, c.sess); err != nil {
		c.app.term.PrintWarning(fmt.Sprintf("Session save failed: %s", err))
	}
}

func (c *chat) repl(ctx context.Context) error {
	t := c.app.term
	t.PrintBanner(c.app.cfg.Provider, c.app.model(), c.app.cfg.FileTools, version)

	for {
		input, err := t.ReadLine(t.Prompt())
		if err != nil {
			return nil // EOF (Ctrl+D)
		}
		if input == "" {
			continue
		}

		switch strings.Fields(input)[0] {
		case "/quit", "/exit":
			return nil
		case "/help":
			t.PrintHelp()
		case "/clear":
			c.sess = session.New(c.app.cfg.Provider, c.app.model())
			c.usage = llm.Usage{}
			t.PrintInfo("Conversation cleared.")
		case "/tokens":
			t.PrintUsage(c.usage, llm.EstimateMessageTokens(c.sess.Messages), len(c.sess.Messages))
		case "/tools":
			items, err := toolItems(ctx, c.app.server)
			if err != nil {
				t.PrintError(err)
				continue
			}
			t.PrintTools(items)
		case "/resume":
			c.resume(ctx)
		default:
			if strings.HasPrefix(input, "/") {
				t.PrintWarning(fmt.Sprintf("Unknown command %s. Type /help for commands.", input))
				continue
			}
			if err := c.send(ctx, llm.UserText(input)); err != nil {
				t.PrintError(err)
			}
		}
	}
}

func (c *chat) resume(ctx context.Context) {
	t := c.app.term
	if c.app.store == nil {
		t.PrintWarning("Sessions are disabled.")
		return
	}
	metas, err := c.app.store.List(ctx, 10)
	if err != nil {
		t.PrintError(fmt.Errorf("list sessions: %w", err))
		return
	}
	t.PrintSessionList(sessionItems(metas))
	if len(metas) == 0 {
		return
	}

	choice, err := t.ReadLine("Choice: ")
	if err != nil || choice == "" {
		return
	}
	n, err := strconv.Atoi(choice)
	if err != nil || n < 1 || n > len(metas) {
		t.PrintWarning("Invalid choice.")
		return
	}
	if err := c.open(ctx, metas[n-1].ID); err != nil {
		t.PrintError(err)
		return
	}
	c.usage = llm.Usage{}
}

// uploader is implemented by clients with a file upload API.
type uploader interface {
	UploadFile(ctx context.Context, mimeType string, data []byte) (string, error)
}

// userMessage builds a user message from text and attachments. Attachments
// are local paths or http(s) URLs. With up set, local files are uploaded
// and referenced by URI.
func userMessage(ctx context.Context, text string, attachments []string, up uploader) (llm.Message, error) {
	parts := []llm.Part{llm.Text{Content: text, Finished: true}}
	for _, ref := range attachments {
		part, err := attachment(ctx, ref, up)
		if err != nil {
			return llm.Message{}, err
		}
		parts = append(parts, part)
	}
	return llm.User(parts...), nil
}

func attachment(ctx context.Context, ref string, up uploader) (llm.Media, error) {
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(ref)))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		return llm.Media{Type: llm.MediaTypeFromMIME(mimeType), URI: ref, MIMEType: mimeType, Finished: true}, nil
	}

	if mimeType == "" {
		return llm.Media{}, fmt.Errorf("attachment %s: unknown file type", ref)
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return llm.Media{}, fmt.Errorf("attachment: %w", err)
	}
	media := llm.Media{Type: llm.MediaTypeFromMIME(mimeType), MIMEType: mimeType, Finished: true}
	if up != nil {
		uri, err := up.UploadFile(ctx, mimeType, data)
		if err != nil {
			return llm.Media{}, fmt.Errorf("upload %s: %w", ref, err)
		}
		media.URI = uri
		return media, nil
	}
	media.Data = base64.StdEncoding.EncodeToString(data)
	return media, nil
}

func sessionItems(metas []session.Meta) []ui.SessionListItem {
	items := make([]ui.SessionListItem, len(metas))
	for i, m := range metas {
		items[i] = ui.SessionListItem{
			ID:       m.ID,
			Updated:  m.UpdatedAt,
			Model:    m.Model,
			Preview:  m.Preview,
			MsgCount: m.MsgCount,
		}
	}
	return items
}
