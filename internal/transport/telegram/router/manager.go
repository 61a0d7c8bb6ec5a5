package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "chapterbot/internal/runtime/supervisor"
	kit "chapterbot/internal/transport"
	logx "chapterbot/pkg/logx"
)

// Sender is the outbound half of the chat transport.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration // zero means no per-command timeout
	Handle      HandlerFunc
}

type Request struct {
	Chat    kit.ChatTarget
	FromID  int64
	From    string
	Command string
	Text    string // raw message text

	Args      []string // positionals
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool

	ReqID  string
	Logger logx.Logger

	sender  Sender
	replied atomic.Bool
}

// Reply answers in the chat (and topic) the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	r.replied.Store(true)
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type CommandManager struct {
	log    logx.Logger
	sender Sender
	menu   kit.CommandMenuUpdater

	mu    sync.RWMutex
	cmds  map[string]*Command // name and alias -> command
	names []string            // canonical names, sorted

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	workers int
	jobs    chan func()
}

// NewCommandManager builds an empty registry. If sender also implements
// kit.CommandMenuUpdater, SetRegistry publishes the command menu.
func NewCommandManager(log logx.Logger, sender Sender) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		log:     log.With(logx.String("comp", "telegram.router")),
		sender:  sender,
		cmds:    map[string]*Command{},
		workers: max(2, min(runtime.NumCPU(), 4)),
		jobs:    make(chan func(), 64),
	}
	if up, ok := sender.(kit.CommandMenuUpdater); ok {
		m.menu = up
	}
	return m
}

// SetRegistry replaces the command set. A /help command is always added.
func (m *CommandManager) SetRegistry(cmds []Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "Show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	})

	reg := map[string]*Command{}
	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		reg[name] = &cc
		names = append(names, name)
	}
	for _, name := range names {
		c := reg[name]
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, taken := reg[a]; !taken {
					reg[a] = c
				}
			}
		}
	}
	sort.Strings(names)

	m.mu.Lock()
	m.cmds, m.names = reg, names
	m.mu.Unlock()
}

// PublishMenu pushes the command list to the chat platform, if supported.
func (m *CommandManager) PublishMenu(ctx context.Context) error {
	if m.menu == nil {
		return nil
	}
	m.mu.RLock()
	menu := make([]kit.BotCommand, 0, len(m.names))
	for _, n := range m.names {
		menu = append(menu, kit.BotCommand{Command: n, Description: menuDescription(m.cmds[n].Description, n)})
	}
	m.mu.RUnlock()
	return m.menu.UpdateMenuCommands(ctx, menu)
}

func (m *CommandManager) lookup(word string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cmds[word]
	return c, ok
}

// Supervisor returns the worker pool supervisor, nil when not running.
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup, m.running = sup, running
	m.runMu.Unlock()
}

// tryEnqueue reports false when the queue is full or already closed.
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes updates until ctx is done or updates is closed, then
// lets queued commands finish for a few seconds.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := range m.workers {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			m.work(c, i)
			return nil
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		m.setSupervisor(sup, false)
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				m.routeMessage(ctx, up.Message)
			}
		}
	}
}

// work runs jobs until the queue closes. Jobs keep running after ctx is
// canceled so that queued commands drain.
func (m *CommandManager) work(_ context.Context, idx int) {
	for job := range m.jobs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			job()
		}()
	}
}

func (m *CommandManager) routeMessage(ctx context.Context, msg *kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	word := commandWord(parts[0])
	cmd, ok := m.lookup(word)
	if !ok {
		_, _ = m.sender.SendText(ctx, chat, "Unknown command. Try /help", nil)
		return
	}

	raw := parts[1:]
	pos, flags, bools := parseFlags(raw)
	rid := newReqID()
	req := &Request{
		Chat:      chat,
		FromID:    msg.FromID,
		From:      msg.FromUsername,
		Command:   cmd.Name,
		Text:      text,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int("thread_id", chat.ThreadID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		sender: m.sender,
	}
	h := Chain(cmd.Handle,
		MWPanicRecover(),
		MWRequestLog(),
		MWReplyOnError(),
		MWTimeout(cmd.Timeout),
	)
	// Handlers outlive the dispatch context so that shutdown lets queued
	// commands reply.
	hctx := context.WithoutCancel(ctx)
	if !m.tryEnqueue(func() { _ = h(hctx, req) }) {
		_, _ = m.sender.SendText(ctx, chat, "Busy, try again in a moment.", nil)
	}
}
