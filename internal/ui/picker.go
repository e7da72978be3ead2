package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tx/internal/config"
	"tx/internal/logging"
	"tx/internal/prompts"
	"tx/internal/session"
)

// Kind is what a picker entry launches.
type Kind int

const (
	KindProvider Kind = iota + 1
	KindProfile
	KindPrompt
	KindSession
)

func (k Kind) String() string {
	switch k {
	case KindProvider:
		return "provider"
	case KindProfile:
		return "profile"
	case KindPrompt:
		return "prompt"
	case KindSession:
		return "session"
	default:
		return "unknown"
	}
}

// Selection is the picker's result. Name is a provider, profile, namespaced
// prompt key or session id depending on Kind. The zero value means nothing
// was picked.
type Selection struct {
	Kind Kind
	Name string
}

// Empty reports whether the user left without picking.
func (s Selection) Empty() bool { return s.Kind == 0 }

// ConfigSource is the part of the configuration the picker lists.
type ConfigSource interface {
	ProviderNames() []string
	ProfileNames() []string
	Provider(name string) (config.Provider, bool)
	Profile(name string) (config.Profile, bool)
}

// Loaders fetch the entries that live outside the configuration. Either may
// be nil.
type Loaders struct {
	Sessions func(ctx context.Context) ([]session.Snapshot, error)
	Prompts  func(ctx context.Context, force bool) (prompts.Snapshot, prompts.Status, error)
}

// ConfigReloadedMsg delivers a reloaded configuration. On Err the previous
// configuration stays in place.
type ConfigReloadedMsg struct {
	Config ConfigSource
	Err    error
}

// SessionsLoadedMsg delivers the session list.
type SessionsLoadedMsg struct {
	Sessions []session.Snapshot
	Err      error
}

// PromptsLoadedMsg delivers a prompt catalog snapshot.
type PromptsLoadedMsg struct {
	Snapshot prompts.Snapshot
	Status   prompts.Status
	Err      error
}

// Page is one tab of the picker.
type Page int

const (
	PageLaunch Page = iota
	PageSessions
)

type item struct {
	kind  Kind
	name  string
	title string
	desc  string
}

func (i item) Title() string       { return fmt.Sprintf("%-8s %s", i.kind, i.title) }
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.title + " " + i.name + " " + i.desc }

// Model is the bubbletea model of the picker.
type Model struct {
	ctx     context.Context
	loaders Loaders
	styles  Styles

	list   list.Model
	page   Page
	width  int
	height int

	cfg          ConfigSource
	sessions     []session.Snapshot
	prompts      prompts.Snapshot
	promptStatus prompts.Status

	status    string
	err       error
	selection Selection
	done      bool
}

// New builds a picker over cfg.
func New(ctx context.Context, cfg ConfigSource, loaders Loaders) Model {
	l := list.New(nil, list.NewDefaultDelegate(), 80, 20)
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = lipgloss.NewStyle().Bold(true).Foreground(Accent)

	m := Model{
		ctx:          ctx,
		loaders:      loaders,
		styles:       DefaultStyles(),
		list:         l,
		cfg:          cfg,
		promptStatus: prompts.Status{State: prompts.StateDisabled},
	}
	m.list.SetItems(m.items())
	return m
}

// Init starts loading sessions and prompts.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadSessions(), m.loadPrompts(false))
}

func (m Model) loadSessions() tea.Cmd {
	load, ctx := m.loaders.Sessions, m.ctx
	if load == nil {
		return nil
	}
	return func() tea.Msg {
		snaps, err := load(ctx)
		return SessionsLoadedMsg{Sessions: snaps, Err: err}
	}
}

func (m Model) loadPrompts(force bool) tea.Cmd {
	load, ctx := m.loaders.Prompts, m.ctx
	if load == nil {
		return nil
	}
	return func() tea.Msg {
		snap, status, err := load(ctx, force)
		return PromptsLoadedMsg{Snapshot: snap, Status: status, Err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(msg.Width, max(msg.Height-4, 1))
		return m, nil

	case ConfigReloadedMsg:
		if msg.Err != nil {
			m.err = msg.Err
			m.status = "config reload failed; keeping previous configuration"
			return m, nil
		}
		m.cfg, m.err = msg.Config, nil
		m.status = "configuration reloaded"
		logging.UIDebug("picker: configuration reloaded")
		return m, m.list.SetItems(m.items())

	case SessionsLoadedMsg:
		if msg.Err != nil {
			m.err = msg.Err
			return m, nil
		}
		m.sessions = msg.Sessions
		return m, m.list.SetItems(m.items())

	case PromptsLoadedMsg:
		m.promptStatus = msg.Status
		if msg.Err != nil {
			m.status = msg.Status.Message
			if m.status == "" {
				m.status = "prompt assembler unavailable"
			}
		}
		m.prompts = msg.Snapshot
		return m, m.list.SetItems(m.items())

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.done = true
			return m, tea.Quit
		}
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "q":
			m.done = true
			return m, tea.Quit
		case "esc":
			if m.list.FilterState() == list.Unfiltered {
				m.done = true
				return m, tea.Quit
			}
		case "tab", "shift+tab":
			m.page = 1 - m.page
			m.list.ResetFilter()
			m.list.ResetSelected()
			return m, m.list.SetItems(m.items())
		case "enter":
			if it, ok := m.list.SelectedItem().(item); ok {
				m.selection = Selection{Kind: it.kind, Name: it.name}
				m.done = true
				logging.UI("picker: selected %s %s", it.kind, it.name)
				return m, tea.Quit
			}
			return m, nil
		case "r":
			m.status = "refreshing"
			return m, tea.Batch(m.loadSessions(), m.loadPrompts(true))
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// items builds the entries of the current page.
func (m Model) items() []list.Item {
	var out []list.Item
	if m.page == PageSessions {
		for _, s := range m.sessions {
			desc := s.Provider()
			if s.Recipe.Profile != "" {
				desc += " · " + s.Recipe.Profile
			}
			desc += " · " + s.UpdatedAt.Local().Format("2006-01-02 15:04")
			out = append(out, item{kind: KindSession, name: s.ID, title: s.DisplayLabel(), desc: desc})
		}
		return out
	}

	if m.cfg != nil {
		for _, name := range m.cfg.ProviderNames() {
			p, _ := m.cfg.Provider(name)
			desc := p.Description
			if desc == "" {
				desc = strings.TrimSpace(p.Bin + " " + strings.Join(p.Flags, " "))
			}
			out = append(out, item{kind: KindProvider, name: name, title: name, desc: desc})
		}
		for _, name := range m.cfg.ProfileNames() {
			p, _ := m.cfg.Profile(name)
			out = append(out, item{kind: KindProfile, name: name, title: name, desc: profileSummary(p)})
		}
	}
	for _, p := range m.prompts.Prompts() {
		out = append(out, item{kind: KindPrompt, name: p.Key, title: p.Key, desc: p.Description})
	}
	return out
}

func profileSummary(p config.Profile) string {
	if p == nil {
		return ""
	}
	s := p.Static()
	if s.Description != "" {
		return s.Description
	}
	parts := []string{"provider: " + orDefault(s.Provider)}
	if len(s.Pre) > 0 {
		parts = append(parts, "pre: "+strings.Join(s.Pre, ","))
	}
	if len(s.Post) > 0 {
		parts = append(parts, "post: "+strings.Join(s.Post, ","))
	}
	if s.Wrap != "" {
		parts = append(parts, "wrap: "+s.Wrap)
	}
	if pp, ok := p.(config.PromptProfile); ok {
		parts = append(parts, "prompt: "+pp.Prompt)
	}
	return strings.Join(parts, " · ")
}

func orDefault(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}

// View renders the picker.
func (m Model) View() string {
	if m.done {
		return ""
	}
	tabs := []string{"Launch", "Sessions"}
	for i, t := range tabs {
		if Page(i) == m.page {
			tabs[i] = m.styles.TabFocus.Render(t)
		} else {
			tabs[i] = m.styles.Tab.Render(t)
		}
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top, m.styles.Title.Render("tx"), " ", strings.Join(tabs, ""))

	footer := m.styles.Help.Render("enter launch · tab switch · / filter · r refresh · q quit")
	switch {
	case m.err != nil:
		footer = m.styles.Error.Render(m.err.Error()) + "\n" + footer
	case m.promptStatus.State == prompts.StateUnavailable:
		footer = m.styles.Warn.Render(m.status) + "\n" + footer
	case m.status != "":
		footer = m.styles.Status.Render(m.status) + "\n" + footer
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, m.list.View(), footer)
}

// Selection is what the user picked, if anything.
func (m Model) Selection() Selection { return m.selection }

// Page is the visible tab.
func (m Model) Page() Page { return m.page }

// NewProgram wraps m in a full-screen program bound to ctx.
func NewProgram(ctx context.Context, m Model, opts ...tea.ProgramOption) *tea.Program {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	return tea.NewProgram(m, opts...)
}

// Run runs p and returns the selection of its final model.
func Run(p *tea.Program) (Selection, error) {
	final, err := p.Run()
	if err != nil {
		return Selection{}, fmt.Errorf("picker failed: %w", err)
	}
	if m, ok := final.(Model); ok {
		return m.Selection(), nil
	}
	return Selection{}, nil
}
