package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Rrens/chatnil/internal/chatstore"
	"github.com/Rrens/chatnil/internal/client"
	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/kv"
)

const followInterval = 50 * time.Millisecond

// command is one parsed input line
type command struct {
	name string
	args []string
	rest string
}

// parseLine splits "/edit 2 new text" into its name, fields and the text
// after the first argument. Lines not starting with a slash are messages.
func parseLine(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{}, false
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return command{name: "help"}, true
	}
	cmd := command{name: strings.ToLower(fields[0]), args: fields[1:]}
	if len(fields) > 2 {
		_, after, _ := strings.Cut(strings.TrimSpace(line[1+len(fields[0]):]), fields[1])
		cmd.rest = strings.TrimSpace(after)
	}
	return cmd, true
}

// repl drives a client session from typed lines
type repl struct {
	s  *client.Session
	ui ui
}

func (r *repl) handle(ctx context.Context, line string) (quit bool) {
	cmd, ok := parseLine(line)
	if !ok {
		if strings.TrimSpace(line) == "" {
			return false
		}
		r.s.Composer.SetDraft(line)
		r.submit(ctx)
		return false
	}

	var err error
	switch cmd.name {
	case "quit", "exit":
		return true
	case "help":
		r.help()
	case "new":
		err = r.newChat(cmd.args)
	case "chats":
		r.listChats(strings.Join(cmd.args, " "))
	case "open":
		err = r.open(ctx, cmd.args)
	case "show":
		r.show()
	case "attach":
		err = r.attach(cmd.args)
	case "files":
		r.files()
	case "edit":
		err = r.edit(ctx, cmd)
	case "delete":
		err = r.deleteMessage(ctx, cmd.args)
	case "regen":
		err = r.regen(ctx, cmd.args)
	case "rename":
		err = r.rename(strings.Join(cmd.args, " "))
	case "pin":
		err = r.withActive(func(id string) bool { return r.s.Store.TogglePin(id) })
	case "archive":
		err = r.withActive(func(id string) bool { return r.s.Store.ArchiveChat(id) })
	case "rm":
		err = r.removeChat(ctx)
	case "export":
		err = r.export(cmd.args)
	case "import":
		err = r.importChats(cmd.args)
	case "refresh":
		r.s.Sync.ForceRefresh()
		r.ui.dim("refresh requested")
	case "status":
		r.status(ctx)
	case "login":
		if len(cmd.args) != 1 {
			err = errors.New("usage: /login <token>")
			break
		}
		err = r.s.Login(cmd.args[0])
	case "logout":
		r.s.Logout()
		r.ui.dim("signed out")
	case "cancel":
		r.s.Streams.Cancel()
	case "theme":
		err = r.theme(ctx, cmd.args)
	default:
		err = fmt.Errorf("unknown command /%s, try /help", cmd.name)
	}

	if err != nil {
		r.ui.notice(err.Error())
	}
	return false
}

func (r *repl) help() {
	r.ui.info(`Type a message to send it. Commands:
  /new [athlete|parent|coach]   start a chat
  /chats [query]                list or search chats
  /open <n|id>                  switch to a chat
  /show                         print the active chat
  /attach <path>                stage a file for the next message
  /files                        list staged files
  /edit <n> <text>              edit a message and drop what followed it
  /delete <n>                   delete a message
  /regen <n>                    regenerate an assistant reply
  /rename <title>  /pin  /archive  /rm
  /export md|txt|json [path]    export the active chat or all chats
  /import <path>                import a JSON export
  /refresh  /status  /cancel  /theme [system|light|dark]
  /login <token>  /logout  /quit`)
}

func (r *repl) submit(ctx context.Context) {
	res, err := r.s.Composer.Submit(ctx)
	if err != nil && res.ChatID == "" {
		r.ui.notice(err.Error())
		return
	}
	if res.ReplyID == "" {
		if err != nil {
			r.ui.notice(err.Error())
		}
		return
	}
	r.follow(ctx, res.ChatID, res.ReplyID)
}

// follow prints a reply as it grows until the controller settles
func (r *repl) follow(ctx context.Context, chatID, replyID string) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.s.Streams.Wait(waitCtx)
	}()

	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()

	printed := 0
	lastStatus := ""
	flush := func() {
		if st := r.s.Streams.Status(); printed == 0 && st != "" && st != lastStatus {
			lastStatus = st
			r.ui.status(st)
		}
		chat, ok := r.s.Store.GetChat(chatID)
		if !ok {
			return
		}
		i := chat.MessageIndex(replyID)
		if i < 0 {
			return
		}
		content := chat.Messages[i].Content
		if len(content) > printed {
			r.ui.assistant(content[printed:])
			printed = len(content)
		}
	}

	for {
		select {
		case <-done:
			flush()
			r.ui.info("")
			return
		case <-ticker.C:
			flush()
		}
	}
}

func (r *repl) newChat(args []string) error {
	role := domain.RoleContextAthlete
	if len(args) > 0 {
		role = domain.RoleContext(strings.ToLower(args[0]))
		switch role {
		case domain.RoleContextAthlete, domain.RoleContextParent, domain.RoleContextCoach:
		default:
			return fmt.Errorf("unknown role %q", args[0])
		}
	}
	id := r.s.Store.NewChatFor(role)
	r.ui.dim("new %s chat %s", role, shortID(id))
	return nil
}

func (r *repl) listChats(query string) {
	chats := r.s.Store.Chats()
	if query != "" {
		chats = r.s.Store.FilteredChats(query)
	}
	if len(chats) == 0 {
		r.ui.dim("no chats")
		return
	}
	active := r.s.Store.ActiveChatID()
	for i, c := range chats {
		marker := " "
		if c.ID == active {
			marker = "*"
		}
		flags := ""
		if c.IsPinned {
			flags += " [pinned]"
		}
		if c.IsArchived {
			flags += " [archived]"
		}
		r.ui.info("%s %2d. %s  %s%s", marker, i+1, c.Title, shortID(c.ID), flags)
	}
}

// resolveChat accepts a 1-based position in the chat list or an id prefix
func (r *repl) resolveChat(ref string) (string, error) {
	chats := r.s.Store.Chats()
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(chats) {
			return "", fmt.Errorf("no chat #%d", n)
		}
		return chats[n-1].ID, nil
	}
	for _, c := range chats {
		if strings.HasPrefix(c.ID, ref) {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("no chat matches %q", ref)
}

func (r *repl) open(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /open <n|id>")
	}
	id, err := r.resolveChat(args[0])
	if err != nil {
		return err
	}
	if !r.s.Store.SetActiveChat(id) {
		return errors.New("archived chats cannot be opened")
	}
	if err := r.s.Prefs.PushNavigation(ctx, "chat/"+id); err != nil {
		r.ui.dim("navigation history not saved: %v", err)
	}
	r.show()
	return nil
}

func (r *repl) show() {
	chat, ok := r.s.Store.GetActiveChat()
	if !ok {
		r.ui.dim("no active chat")
		return
	}
	r.ui.title("%s (%s)", chat.Title, chat.RoleContext)
	for i, m := range chat.Messages {
		r.ui.dim("%d. %s", i+1, m.Role)
		if m.Role == domain.RoleUser {
			r.ui.user(m.Content)
		} else {
			r.ui.assistant(m.Content + "\n")
		}
		for _, a := range m.Attachments {
			r.ui.dim("   [%s] %s", a.Kind, a.Name)
		}
		for _, src := range m.Sources {
			r.ui.dim("   source: %s", src.Title)
		}
	}
	r.ui.separator()
}

// resolveMessage accepts a 1-based position in the active chat or a message id
func (r *repl) resolveMessage(ref string) (string, string, error) {
	chat, ok := r.s.Store.GetActiveChat()
	if !ok {
		return "", "", errors.New("no active chat")
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(chat.Messages) {
			return "", "", fmt.Errorf("no message #%d", n)
		}
		return chat.ID, chat.Messages[n-1].ID, nil
	}
	if chat.MessageIndex(ref) < 0 {
		return "", "", fmt.Errorf("no message %q", ref)
	}
	return chat.ID, ref, nil
}

func (r *repl) attach(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: /attach <path>")
	}
	for _, path := range args {
		f, err := r.s.Composer.AttachFile(path)
		if err != nil {
			return err
		}
		r.ui.dim("staged %s (%s, %d bytes)", f.Name, f.MIMEType, f.Size)
	}
	return nil
}

func (r *repl) files() {
	files := r.s.Composer.Files()
	if len(files) == 0 {
		r.ui.dim("no staged files")
		return
	}
	for _, f := range files {
		r.ui.info("  %s  %s  %d bytes", f.Name, f.MIMEType, f.Size)
	}
}

func (r *repl) edit(ctx context.Context, cmd command) error {
	if len(cmd.args) < 2 || cmd.rest == "" {
		return errors.New("usage: /edit <n> <text>")
	}
	chatID, msgID, err := r.resolveMessage(cmd.args[0])
	if err != nil {
		return err
	}
	return r.s.Store.EditMessage(ctx, chatID, msgID, cmd.rest)
}

func (r *repl) deleteMessage(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /delete <n>")
	}
	chatID, msgID, err := r.resolveMessage(args[0])
	if err != nil {
		return err
	}
	return r.s.Store.DeleteMessage(ctx, chatID, msgID)
}

func (r *repl) regen(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /regen <n>")
	}
	chatID, msgID, err := r.resolveMessage(args[0])
	if err != nil {
		return err
	}
	if err := r.s.Streams.Regenerate(ctx, chatID, msgID); err != nil {
		return err
	}
	r.follow(ctx, chatID, msgID)
	return nil
}

func (r *repl) withActive(fn func(chatID string) bool) error {
	id := r.s.Store.ActiveChatID()
	if id == "" {
		return errors.New("no active chat")
	}
	if !fn(id) {
		return errors.New("chat not changed")
	}
	return nil
}

func (r *repl) rename(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New("usage: /rename <title>")
	}
	return r.withActive(func(id string) bool { return r.s.Store.RenameChat(id, title) })
}

func (r *repl) removeChat(ctx context.Context) error {
	id := r.s.Store.ActiveChatID()
	if id == "" {
		return errors.New("no active chat")
	}
	return r.s.Store.DeleteChat(ctx, id)
}

func (r *repl) export(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: /export md|txt|json [path]")
	}

	var out []byte
	switch args[0] {
	case "json":
		data, err := r.s.Store.ExportChats()
		if err != nil {
			return err
		}
		out = data
	case "md", "txt":
		chat, ok := r.s.Store.GetActiveChat()
		if !ok {
			return errors.New("no active chat")
		}
		if args[0] == "md" {
			out = []byte(chatstore.ExportMarkdown(chat, chatstore.DefaultExportOptions))
		} else {
			out = []byte(chatstore.ExportText(chat, chatstore.DefaultExportOptions))
		}
	default:
		return fmt.Errorf("unknown export format %q", args[0])
	}

	if len(args) < 2 {
		r.ui.info("%s", out)
		return nil
	}
	if err := os.WriteFile(args[1], out, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", args[1], err)
	}
	r.ui.dim("wrote %s", args[1])
	return nil
}

func (r *repl) importChats(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /import <path>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	n, err := r.s.Store.ImportChats(data)
	if err != nil {
		return err
	}
	r.ui.dim("imported %d chat(s)", n)
	return nil
}

func (r *repl) status(ctx context.Context) {
	st := r.s.Sync.State()
	online := "offline"
	if r.s.Net.Online() {
		online = "online"
	}
	user := st.UserID
	if user == "" {
		user = "(signed out)"
	}
	r.ui.info("user: %s  sync: %s  network: %s  chats: %d", user, st.Status, online, r.s.Store.ChatCount())
	if !st.LastSyncedAt.IsZero() {
		r.ui.info("last synced: %s", st.LastSyncedAt.Format(time.RFC822))
	}
	if st.Err != nil {
		r.ui.notice(st.Err.Error())
	}
	mirror := r.s.Store.MirrorState()
	saved := "never"
	if !mirror.LastSaved.IsZero() {
		saved = mirror.LastSaved.Format(time.Kitchen)
	}
	r.ui.info("stream: %s  mirror saved: %s  pending: %t  theme: %s", r.s.Streams.State(), saved, mirror.Pending, r.s.Prefs.Theme(ctx))
	if mirror.Err != nil {
		r.ui.notice("mirror: " + mirror.Err.Error())
	}
}

func (r *repl) theme(ctx context.Context, args []string) error {
	if len(args) == 0 {
		r.ui.info("theme: %s", r.s.Prefs.Theme(ctx))
		return nil
	}
	return r.s.Prefs.SetTheme(ctx, kv.Theme(args[0]))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
