package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/torosent/tpbench/internal/config"
)

var errPickerCancelled = errors.New("no profile selected")

// chooseProfile resolves the profile to run. An explicit --profile wins;
// otherwise an interactive terminal gets a picker and anything else runs the
// first profile.
func chooseProfile(cfg *config.Config, interactive bool) (config.Profile, error) {
	if cfg.ProfileSelector != "" || !interactive || len(cfg.Profiles) < 2 {
		return cfg.SelectProfile(cfg.ProfileSelector)
	}
	idx, err := pickProfile(cfg.Profiles)
	if err != nil {
		return config.Profile{}, err
	}
	return cfg.SelectProfile(fmt.Sprintf("%d", idx))
}

func printProfiles(w io.Writer, profiles []config.Profile) {
	fmt.Fprintf(w, "%-5s %-24s %-11s %-20s %-9s %s\n", "INDEX", "NAME", "ROLE", "TOPIC", "ROUNDS", "SIZES")
	for i, p := range profiles {
		fmt.Fprintf(w, "%-5d %-24s %-11s %-20s %-9d %s\n", i, p.Name, p.Role, p.Topic, p.LoopNum, describeSizes(p))
	}
}

func describeSizes(p config.Profile) string {
	parts := make([]string, 0, p.LoopNum)
	for i := 0; i < p.LoopNum; i++ {
		rc := p.Round(i)
		if rc.MinSize == rc.MaxSize {
			parts = append(parts, fmt.Sprintf("%d", rc.MinSize))
			continue
		}
		parts = append(parts, fmt.Sprintf("%d-%d", rc.MinSize, rc.MaxSize))
	}
	return strings.Join(parts, ",")
}

type profileItem struct {
	index   int
	profile config.Profile
}

func (i profileItem) Title() string { return fmt.Sprintf("%d. %s", i.index, i.profile.Name) }

func (i profileItem) Description() string {
	return fmt.Sprintf("%s on %q, %d rounds, sizes %s", i.profile.Role, i.profile.Topic, i.profile.LoopNum, describeSizes(i.profile))
}

func (i profileItem) FilterValue() string { return i.profile.Name }

type pickerModel struct {
	list     list.Model
	selected int
	quit     bool
}

func newPickerModel(profiles []config.Profile) pickerModel {
	items := make([]list.Item, len(profiles))
	for i, p := range profiles {
		items[i] = profileItem{index: i, profile: p}
	}
	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Select a benchmark profile"
	return pickerModel{list: l, selected: -1}
}

func (m pickerModel) Init() tea.Cmd { return nil }

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)
	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "enter":
			if item, ok := m.list.SelectedItem().(profileItem); ok {
				m.selected = item.index
			}
			return m, tea.Quit
		case "q", "esc", "ctrl+c":
			m.quit = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m pickerModel) View() string { return m.list.View() }

func pickProfile(profiles []config.Profile) (int, error) {
	final, err := tea.NewProgram(newPickerModel(profiles), tea.WithAltScreen()).Run()
	if err != nil {
		return 0, fmt.Errorf("profile picker: %w", err)
	}
	m, ok := final.(pickerModel)
	if !ok || m.quit || m.selected < 0 {
		return 0, errPickerCancelled
	}
	return m.selected, nil
}
