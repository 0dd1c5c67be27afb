// Package tui provides the interactive Bubble Tea browser for controller runs.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/cplpilot/internal/cli"
	"github.com/theirongolddev/cplpilot/internal/config"
	"github.com/theirongolddev/cplpilot/internal/model"
	"github.com/theirongolddev/cplpilot/internal/pipeline"
	"github.com/theirongolddev/cplpilot/internal/tui/components"
	"github.com/theirongolddev/cplpilot/internal/tui/theme"
)

// Source produces the run to browse. Live sources report progress through
// rep while they work; stored runs can ignore it.
type Source func(ctx context.Context, cfg config.Config, rep pipeline.Reporter) (model.RunReport, error)

// SaveFunc persists the answers of the first-run setup form.
type SaveFunc func(cfg config.Config, creds config.Credentials) error

// Options configures the browser.
type Options struct {
	Title       string
	Config      config.Config
	Credentials config.Credentials
	NeedSetup   bool
	Save        SaveFunc
}

// AccountStartedMsg is sent when the runner begins an account.
type AccountStartedMsg struct{ AccountID string }

// AdsetDoneMsg carries one finished adset.
type AdsetDoneMsg struct{ Outcome model.AdsetOutcome }

// AccountDoneMsg carries one finished account.
type AccountDoneMsg struct{ Outcome model.AccountOutcome }

// RunDoneMsg is sent when the source returns.
type RunDoneMsg struct {
	Report model.RunReport
	Err    error
}

type phase int

const (
	phaseSetup phase = iota
	phaseLoading
	phaseBrowse
)

const (
	minTerminalWidth = 80
	maxContentWidth  = 180
)

// App is the root Bubble Tea model.
type App struct {
	opts   Options
	cfg    config.Config
	source Source

	phase  phase
	report model.RunReport
	err    error

	// Loading: messages from the source goroutine
	ctx        context.Context
	sub        chan tea.Msg
	cancel     context.CancelFunc
	spinner    spinner.Model
	current    string
	doneAccts  int
	doneAdsets int
	lastAdset  string

	// First-run setup (huh form)
	setupForm *huh.Form
	setupVals *SetupValues
	setupErr  error

	// Browse
	activeTab  int
	adsetTable table.Model
	acctTable  table.Model
	adsets     []model.AdsetOutcome
	keys       keyMap
	help       help.Model
	width      int
	height     int
}

// NewApp creates the browser for the given source.
func NewApp(src Source, opts Options) App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Active.Accent).Background(theme.Active.Surface)

	ctx, cancel := context.WithCancel(context.Background())
	a := App{
		ctx:     ctx,
		cancel:  cancel,
		opts:    opts,
		cfg:     opts.Config,
		source:  src,
		phase:   phaseLoading,
		sub:     make(chan tea.Msg, 16),
		spinner: sp,
		keys:    defaultKeyMap(),
		help:    help.New(),
	}
	if opts.NeedSetup {
		a.phase = phaseSetup
		a.setupVals = NewSetupValues(opts.Config, opts.Credentials)
		a.setupForm = NewSetupForm(a.setupVals, opts.Credentials)
	}
	return a
}

// Init implements tea.Model.
func (a App) Init() tea.Cmd {
	if a.phase == phaseSetup {
		return a.setupForm.Init()
	}
	return tea.Batch(a.spinner.Tick, a.startCmd())
}

// startCmd runs the source in a goroutine and returns its first message.
func (a App) startCmd() tea.Cmd {
	ctx, src, cfg, sub := a.ctx, a.source, a.cfg, a.sub

	return func() tea.Msg {
		go func() {
			rep := chanReporter{ctx: ctx, sub: sub}
			report, err := src(ctx, cfg, rep)
			select {
			case sub <- RunDoneMsg{Report: report, Err: err}:
			case <-ctx.Done():
			}
		}()
		return <-sub
	}
}

// waitForMsg blocks until the next message arrives from the source goroutine.
func waitForMsg(sub chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-sub
	}
}

// Update implements tea.Model.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		if a.setupForm != nil {
			a.setupForm = a.setupForm.WithWidth(msg.Width).WithHeight(msg.Height)
		}
		a.layoutTables()
		return a, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, a.quit()
		}
		switch a.phase {
		case phaseSetup:
			return a.updateSetupForm(msg)
		case phaseLoading:
			if key.Matches(msg, a.keys.Quit) {
				return a, a.quit()
			}
			return a, nil
		}
		return a.updateBrowse(msg)

	case spinner.TickMsg:
		if a.phase != phaseLoading {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case AccountStartedMsg:
		a.current = msg.AccountID
		return a, waitForMsg(a.sub)

	case AdsetDoneMsg:
		a.doneAdsets++
		a.lastAdset = adsetLine(msg.Outcome)
		return a, waitForMsg(a.sub)

	case AccountDoneMsg:
		a.doneAccts++
		return a, waitForMsg(a.sub)

	case RunDoneMsg:
		a.report = msg.Report
		a.err = msg.Err
		a.phase = phaseBrowse
		a.adsets = msg.Report.Adsets()
		a.buildTables()
		return a, nil
	}

	if a.phase == phaseSetup {
		return a.updateSetupForm(msg)
	}
	return a, nil
}

func (a App) quit() tea.Cmd {
	a.cancel()
	return tea.Quit
}

func (a App) updateSetupForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	form, cmd := a.setupForm.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		a.setupForm = f
	}

	switch a.setupForm.State {
	case huh.StateCompleted:
		creds := a.opts.Credentials
		cfg := a.cfg
		if err := a.setupVals.Apply(&cfg, &creds); err != nil {
			a.setupErr = err
		} else {
			a.cfg = cfg
			theme.SetActive(cfg.Appearance.Theme)
			if a.opts.Save != nil {
				a.setupErr = a.opts.Save(cfg, creds)
			}
		}
		a.setupForm = nil
		a.phase = phaseLoading
		return a, tea.Batch(a.spinner.Tick, a.startCmd())

	case huh.StateAborted:
		return a, tea.Quit
	}
	return a, cmd
}

func (a App) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, a.quit()
	case key.Matches(msg, a.keys.Help):
		a.help.ShowAll = !a.help.ShowAll
		return a, nil
	case key.Matches(msg, a.keys.NextTab):
		a.activeTab = (a.activeTab + 1) % len(components.Tabs)
		return a, nil
	case key.Matches(msg, a.keys.PrevTab):
		a.activeTab = (a.activeTab + len(components.Tabs) - 1) % len(components.Tabs)
		return a, nil
	}

	if r := []rune(msg.String()); len(r) == 1 {
		if idx := components.TabIdxByKey(r[0]); idx >= 0 {
			a.activeTab = idx
			return a, nil
		}
	}

	var cmd tea.Cmd
	switch a.activeTab {
	case 0:
		a.adsetTable, cmd = a.adsetTable.Update(msg)
	case 1:
		a.acctTable, cmd = a.acctTable.Update(msg)
	}
	return a, cmd
}

// SelectedAdset returns the adset under the cursor.
func (a App) SelectedAdset() (model.AdsetOutcome, bool) {
	i := a.adsetTable.Cursor()
	if i < 0 || i >= len(a.adsets) {
		return model.AdsetOutcome{}, false
	}
	return a.adsets[i], true
}

// Report returns the run being browsed.
func (a App) Report() model.RunReport { return a.report }

func (a App) contentWidth() int {
	return min(a.width, maxContentWidth)
}

func (a *App) buildTables() {
	symbol := a.cfg.Report.CurrencySymbol

	a.adsetTable = table.New(
		table.WithColumns([]table.Column{
			{Title: "Account", Width: 20},
			{Title: "Adset", Width: 24},
			{Title: "Status", Width: 8},
			{Title: "Action", Width: 9},
			{Title: "Pred CPL", Width: 9},
			{Title: "CPL", Width: 9},
			{Title: "Budget", Width: 11},
			{Title: "New", Width: 11},
		}),
		table.WithFocused(true),
	)
	rows := make([]table.Row, 0, len(a.adsets))
	for _, o := range a.adsets {
		name := o.AdsetName
		if name == "" {
			name = o.AdsetID
		}
		row := table.Row{o.AccountID, cli.Truncate(name, 24), string(o.Status), "", "", "", "", ""}
		if d := o.Decision; d != nil {
			row[3] = string(d.Action)
			row[4] = cli.FormatCPL(d.PredictedCPL)
			row[5] = cli.FormatCPL(d.ActualCPL)
			row[6] = cli.FormatMoney(d.CurrentBudget, symbol)
			row[7] = cli.FormatMoney(d.NewBudget, symbol)
		}
		rows = append(rows, row)
	}
	a.adsetTable.SetRows(rows)

	a.acctTable = table.New(
		table.WithColumns([]table.Column{
			{Title: "Account", Width: 22},
			{Title: "Status", Width: 8},
			{Title: "Rows", Width: 6},
			{Title: "Adsets", Width: 7},
			{Title: "Reason", Width: 60},
		}),
		table.WithFocused(true),
	)
	acctRows := make([]table.Row, 0, len(a.report.Accounts))
	for _, acct := range a.report.Accounts {
		acctRows = append(acctRows, table.Row{
			acct.AccountID, string(acct.Status), fmt.Sprint(acct.Rows), fmt.Sprint(len(acct.Adsets)), acct.Reason,
		})
	}
	a.acctTable.SetRows(acctRows)

	styles := tableStyles()
	a.adsetTable.SetStyles(styles)
	a.acctTable.SetStyles(styles)
	a.layoutTables()
}

func (a *App) layoutTables() {
	if a.height == 0 || a.phase != phaseBrowse {
		return
	}
	// header, tab bar, status bar and the detail card below the adset table
	h := max(a.height/2-4, 5)
	a.adsetTable.SetHeight(h)
	a.adsetTable.SetWidth(a.contentWidth())
	a.acctTable.SetHeight(max(a.height-8, 5))
	a.acctTable.SetWidth(a.contentWidth())
}

func tableStyles() table.Styles {
	t := theme.Active
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border).
		BorderBottom(true).
		Foreground(t.Accent).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(t.TextPrimary).
		Background(t.SurfaceHover).
		Bold(false)
	s.Cell = s.Cell.Foreground(t.TextPrimary)
	return s
}

// View implements tea.Model.
func (a App) View() string {
	if a.width == 0 {
		return ""
	}
	if a.width < minTerminalWidth {
		return fmt.Sprintf("\n  Terminal too narrow (%d cols)\n\n  cplpilot needs at least %d columns.\n",
			a.width, minTerminalWidth)
	}

	switch a.phase {
	case phaseSetup:
		return a.setupForm.View()
	case phaseLoading:
		return a.viewLoading()
	}
	return a.viewBrowse()
}

func (a App) viewLoading() string {
	t := theme.Active

	cardStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderAccent).
		Background(t.Surface).
		Padding(2, 4)
	logoStyle := lipgloss.NewStyle().Foreground(t.AccentBright).Background(t.Surface).Bold(true)
	mutedStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)

	var b strings.Builder
	b.WriteString(logoStyle.Render("◈ cplpilot"))
	b.WriteString(mutedStyle.Render(" · " + a.title()))
	b.WriteString("\n\n")

	total := len(a.cfg.Accounts.IDs)
	if a.current != "" && total > 0 {
		b.WriteString(a.spinner.View())
		b.WriteString(mutedStyle.Render(" Processing " + a.current))
		b.WriteString("\n\n")
		b.WriteString(components.ProgressBar(float64(a.doneAccts)/float64(total), 40))
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render(fmt.Sprintf("%d of %d accounts, %d adsets", a.doneAccts, total, a.doneAdsets)))
		if a.lastAdset != "" {
			b.WriteString("\n")
			b.WriteString(mutedStyle.Render(cli.Truncate(a.lastAdset, 60)))
		}
	} else {
		b.WriteString(a.spinner.View())
		b.WriteString(mutedStyle.Render(" Loading run..."))
	}
	if a.setupErr != nil {
		b.WriteString("\n\n")
		b.WriteString(lipgloss.NewStyle().Foreground(t.Orange).Background(t.Surface).
			Render("Settings not saved: " + a.setupErr.Error()))
	}

	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, cardStyle.Render(b.String()),
		lipgloss.WithWhitespaceBackground(t.Background))
}

func (a App) title() string {
	if a.opts.Title != "" {
		return a.opts.Title
	}
	return "run browser"
}

func (a App) viewBrowse() string {
	t := theme.Active
	cw := a.contentWidth()

	header := lipgloss.NewStyle().Foreground(t.AccentBright).Bold(true).Render(" ◈ cplpilot ") +
		lipgloss.NewStyle().Foreground(t.TextMuted).Render(a.title()) + "   " +
		components.RenderTabBar(a.activeTab)

	var body string
	switch {
	case a.err != nil:
		body = components.ContentCard("Run failed", a.err.Error(), cw, true)
	case a.activeTab == 0:
		body = a.viewAdsets(cw)
	case a.activeTab == 1:
		body = a.acctTable.View()
	default:
		body = a.viewSummary(cw)
	}

	info := ""
	if a.report.ID != "" {
		info = "run " + cli.ShortID(a.report.ID)
		if a.report.DryRun {
			info += " (dry run)"
		}
	}
	status := components.RenderStatusBar(a.width, a.help.View(a.keys), info)

	used := lipgloss.Height(header) + lipgloss.Height(body) + lipgloss.Height(status)
	gap := ""
	if pad := a.height - used - 1; pad > 0 {
		gap = strings.Repeat("\n", pad)
	}
	return header + "\n" + body + gap + "\n" + status
}

func (a App) viewAdsets(cw int) string {
	if len(a.adsets) == 0 {
		return components.ContentCard("Adsets", "No adsets were processed.", cw, false)
	}
	return a.adsetTable.View() + "\n" + a.viewDetail(cw)
}

// viewDetail shows the decision and chart of the selected adset.
func (a App) viewDetail(cw int) string {
	o, ok := a.SelectedAdset()
	if !ok {
		return ""
	}
	t := theme.Active
	label := lipgloss.NewStyle().Foreground(t.TextMuted)
	value := lipgloss.NewStyle().Foreground(t.TextPrimary)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %s %s\n", label.Render("Adset"), value.Render(o.AdsetID),
		label.Render("Campaign"), value.Render(orDash(o.CampaignName)))
	status := lipgloss.NewStyle().Foreground(t.StatusColor(o.Status)).Render(string(o.Status))
	fmt.Fprintf(&b, "%s %s", label.Render("Status"), status)
	if d := o.Decision; d != nil {
		action := lipgloss.NewStyle().Foreground(t.ActionColor(d.Action)).Bold(true).Render(string(d.Action))
		fmt.Fprintf(&b, "  %s %s  %s %s → %s (%s)", label.Render("Action"), action,
			label.Render("Budget"),
			value.Render(cli.FormatMoney(d.CurrentBudget, a.cfg.Report.CurrencySymbol)),
			value.Render(cli.FormatMoney(d.NewBudget, a.cfg.Report.CurrencySymbol)),
			cli.FormatChange(d.ChangeRatio()))
	}
	if o.Reason != "" {
		b.WriteString("\n")
		b.WriteString(label.Render(o.Reason))
	}

	inner := components.CardInnerWidth(cw)
	chartH := max(a.height/2-12, 4)
	if chart := adsetChart(o, inner, chartH); chart != "" {
		b.WriteString("\n\n")
		b.WriteString(chart)
	} else if o.Status != model.StatusSkipped {
		b.WriteString("\n\n")
		b.WriteString(label.Render("CPL history is only kept for live runs."))
	}

	return components.ContentCard(o.AdsetName, b.String(), cw, true)
}

func adsetChart(o model.AdsetOutcome, width, height int) string {
	if len(o.History) == 0 {
		return ""
	}
	var values []float64
	var labels []string
	for _, p := range o.History {
		values = append(values, p.CPL)
		labels = append(labels, p.Date.Format("01-02"))
	}
	split := len(values)
	if o.Forecast != nil {
		for _, p := range o.Forecast.FuturePoints() {
			values = append(values, p.Estimate)
			labels = append(labels, p.Date.Format("01-02"))
		}
	}
	return components.CPLChart(values, split, labels, width, height)
}

func (a App) viewSummary(cw int) string {
	t := theme.Active
	s := a.report.Summary()

	cards := components.MetricCardRow([]components.Metric{
		{Label: "Increase", Value: fmt.Sprint(s.Increase), Color: t.Green},
		{Label: "Decrease", Value: fmt.Sprint(s.Decrease), Color: t.Orange},
		{Label: "Maintain", Value: fmt.Sprint(s.Maintain)},
		{Label: "Skipped", Value: fmt.Sprint(s.Skipped), Color: t.Yellow},
		{Label: "Failed", Value: fmt.Sprint(s.Failed), Color: t.Red},
	}, cw)

	label := lipgloss.NewStyle().Foreground(t.TextMuted)
	value := lipgloss.NewStyle().Foreground(t.TextPrimary)
	var b strings.Builder
	lines := [][2]string{
		{"Run", a.report.ID},
		{"Started", cli.FormatTime(a.report.StartedAt)},
		{"Duration", cli.FormatDuration(a.report.Duration())},
		{"Accounts", fmt.Sprintf("%d (%d failed)", s.Accounts, s.AccountsFailed)},
		{"Adsets", fmt.Sprint(s.Adsets)},
	}
	for _, l := range lines {
		fmt.Fprintf(&b, "%s %s\n", label.Render(fmt.Sprintf("%-9s", l[0])), value.Render(l[1]))
	}
	mode := "budgets updated"
	if a.report.DryRun {
		mode = "dry run, no budgets changed"
	}
	b.WriteString(label.Render(fmt.Sprintf("%-9s", "Mode")) + " " + value.Render(mode))

	return cards + "\n" + components.ContentCard("Run", b.String(), cw, false)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func adsetLine(o model.AdsetOutcome) string {
	if o.Decision == nil {
		return fmt.Sprintf("%s %s", o.AdsetID, o.Status)
	}
	return fmt.Sprintf("%s %s %s", o.AdsetID, o.Decision.Action, cli.FormatBudget(o.Decision.NewBudget))
}

// chanReporter forwards runner progress into the program. Sends give up
// once the browser has quit.
type chanReporter struct {
	ctx context.Context
	sub chan tea.Msg
}

func (r chanReporter) send(msg tea.Msg) {
	select {
	case r.sub <- msg:
	case <-r.ctx.Done():
	}
}

func (r chanReporter) AccountStarted(id string) { r.send(AccountStartedMsg{AccountID: id}) }

func (r chanReporter) AccountLoaded(string, []model.AdsetRecord) {}

func (r chanReporter) AdsetDone(o model.AdsetOutcome) { r.send(AdsetDoneMsg{Outcome: o}) }

func (r chanReporter) AccountDone(o model.AccountOutcome) { r.send(AccountDoneMsg{Outcome: o}) }

type keyMap struct {
	NextTab key.Binding
	PrevTab key.Binding
	Up      key.Binding
	Down    key.Binding
	Help    key.Binding
	Quit    key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		NextTab: key.NewBinding(key.WithKeys("tab", "right", "l"), key.WithHelp("tab", "next view")),
		PrevTab: key.NewBinding(key.WithKeys("shift+tab", "left", "h"), key.WithHelp("shift+tab", "prev view")),
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:    key.NewBinding(key.WithKeys("q", "esc"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NextTab, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.NextTab, k.PrevTab},
		{k.Help, k.Quit},
	}
}
