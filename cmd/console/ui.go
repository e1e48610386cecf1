package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/NewbiksCube/ChatBotRPG-sub001/internal/engine"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/chat"
)

const (
	NarratorName    = "Narrator"
	PlaceHolderText = "Type your message here..."

	revealCharsPerTick = 3
	revealTickInterval = 25 * time.Millisecond
)

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	orch *engine.Orchestrator
	sink *TypewriterSink

	chatViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	ready        bool
	width        int
	height       int
	err          error
	loading      bool

	// Transcript of displayed lines, cleared on scene change.
	lines []transcriptLine
	scene int

	// Typewriter reveal state, nil when idle.
	reveal *revealState

	// Meta panel snapshot, refreshed on round settle.
	turn int
	vars map[string]string

	showQuitModal bool
	progressTick  int
}

type transcriptLine struct {
	speaker string // empty for separator lines
	text    string
	user    bool
}

type revealState struct {
	message chat.Message
	shown   int
}

type roundSettledMsg struct {
	turn  int
	scene int
	vars  map[string]string
}

type revealTickMsg struct{}

type progressTickMsg struct{}

var (
	chatPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	speakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey
)

func NewConsoleUI(orch *engine.Orchestrator, sink *TypewriterSink) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 1000
	ta.SetWidth(50)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	chatVp := viewport.New(50, 20)
	chatVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	return ConsoleUI{
		orch:         orch,
		sink:         sink,
		textarea:     ta,
		chatViewport: chatVp,
		metaViewport: metaVp,
		scene:        1,
		turn:         1,
	}
}

func (m ConsoleUI) Init() tea.Cmd {
	return textarea.Blink
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.chatViewport, vpCmd = m.chatViewport.Update(msg)
		m.textarea, tiCmd = m.textarea.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(tiCmd, vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		chatWidth := int(float64(m.width)*0.75) - 4
		metaWidth := m.width - chatWidth - 6

		m.chatViewport.Width = chatWidth - 2
		m.chatViewport.Height = m.height - 7
		m.metaViewport.Width = metaWidth - 2
		m.metaViewport.Height = m.height - 4
		m.textarea.SetWidth(chatWidth - 4)

		m.ready = true
		m.writeChatContent()
		m.metaViewport.SetContent(m.writeMetadata())

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyCtrlY:
			m.copyLastReply()
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}

			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}

			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}

			m.textarea.Reset()
			m.loading = true
			m.progressTick = 0

			m.lines = append(m.lines, transcriptLine{speaker: "You", text: input, user: true})
			m.writeChatContent()

			m.orch.SubmitUserMessage(input)
			return m, progressTick()
		}

	case agentMessageMsg:
		// New scene clears the visible transcript before the reveal.
		if msg.message.Scene > m.scene {
			m.scene = msg.message.Scene
			m.lines = nil
		}
		m.reveal = &revealState{message: msg.message}
		return m, revealTick()

	case revealTickMsg:
		if m.reveal == nil {
			break
		}
		m.reveal.shown += revealCharsPerTick
		if m.reveal.shown >= len(m.reveal.message.Content) {
			m.lines = append(m.lines, transcriptLine{
				speaker: speakerOf(m.reveal.message),
				text:    m.reveal.message.Content,
			})
			m.reveal = nil
			m.writeChatContent()
			m.sink.RevealDone()
			m.orch.NotifyStreamIdle()
			return m, nil
		}
		m.writeChatContent()
		return m, revealTick()

	case roundSettledMsg:
		m.loading = false
		m.turn = msg.turn
		if msg.scene > m.scene {
			m.scene = msg.scene
			m.lines = nil
		}
		m.vars = msg.vars
		m.writeChatContent()
		m.metaViewport.SetContent(m.writeMetadata())
		return m, nil

	case progressTickMsg:
		if m.loading {
			m.progressTick++
			m.writeChatContent()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.chatViewport, vpCmd = m.chatViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

func speakerOf(msg chat.Message) string {
	if msg.Metadata.CharacterName != "" {
		return msg.Metadata.CharacterName
	}
	return NarratorName
}

// writeChatContent rebuilds the chat panel from the transcript for the
// current viewport width.
func (m *ConsoleUI) writeChatContent() {
	chatWidth := m.chatViewport.Width - 6
	if chatWidth < 10 {
		chatWidth = 10
	}

	var content strings.Builder
	content.WriteString(titleStyle.Render("CHATBOT RPG") + "\n\n")
	content.WriteString("Type your messages below to play.\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", chatWidth-6)) + "\n\n")

	for _, line := range m.lines {
		content.WriteString(m.renderLine(line, chatWidth) + "\n\n")
	}

	if m.reveal != nil {
		shown := m.reveal.shown
		if shown > len(m.reveal.message.Content) {
			shown = len(m.reveal.message.Content)
		}
		partial := transcriptLine{
			speaker: speakerOf(m.reveal.message),
			text:    m.reveal.message.Content[:shown],
		}
		content.WriteString(m.renderLine(partial, chatWidth) + "\n\n")
	} else if m.loading {
		content.WriteString(m.renderProgressBar())
	}

	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

func (m *ConsoleUI) renderLine(line transcriptLine, width int) string {
	prefix := line.speaker + ": "
	wrapped := wordwrap.String(line.text, width-len(prefix))
	if line.user {
		return userStyle.Render(prefix) + wrapped
	}
	if line.speaker == NarratorName {
		return narratorStyle.Render(prefix) + wrapped
	}
	return speakerStyle.Render(prefix) + wrapped
}

func (m *ConsoleUI) writeMetadata() string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("SESSION") + "\n\n")

	content.WriteString(fmt.Sprintf("Turn: %d\n", m.turn))
	content.WriteString(fmt.Sprintf("Scene: %d\n\n", m.scene))

	if len(m.vars) > 0 {
		content.WriteString("Variables:\n")
		for k, v := range m.vars {
			content.WriteString(fmt.Sprintf("• %s: %s\n", k, v))
		}
	} else {
		content.WriteString("Variables:\nNone set\n")
	}

	content.WriteString("\n")
	content.WriteString("Commands:\n")
	content.WriteString("• Ctrl+C: Quit\n")
	content.WriteString("• Enter: Send\n")
	content.WriteString("• Ctrl+Y: Copy last reply\n")
	content.WriteString("• /help: Help\n")
	content.WriteString("• /vars: Variables\n")

	return content.String()
}

func (m *ConsoleUI) copyLastReply() {
	for i := len(m.lines) - 1; i >= 0; i-- {
		if !m.lines[i].user {
			if err := clipboard.WriteAll(m.lines[i].text); err != nil {
				m.err = err
			}
			return
		}
	}
}

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	cmd := strings.ToLower(strings.TrimSpace(input))

	switch cmd {
	case "/help":
		helpText := `
Commands:
• /help - Show this help
• /vars - Show variables
• Ctrl+Y - Copy last reply
• Ctrl+C - Quit

How to play:
• Type your actions and press Enter
• The narrator and nearby characters respond in turn
`
		currentContent := m.chatViewport.View()
		m.chatViewport.SetContent(currentContent + titleStyle.Render("Help:") + helpText + "\n")
		m.chatViewport.GotoBottom()

	case "/vars":
		var varsText strings.Builder
		varsText.WriteString(titleStyle.Render("Variables:") + "\n")
		if len(m.vars) == 0 {
			varsText.WriteString("No variables are set.\n")
		} else {
			for k, v := range m.vars {
				varsText.WriteString(fmt.Sprintf("• %s = %s\n", k, v))
			}
		}
		varsText.WriteString("\n")

		currentContent := m.chatViewport.View()
		m.chatViewport.SetContent(currentContent + varsText.String())
		m.chatViewport.GotoBottom()
	}

	m.textarea.Reset()
	return m, nil
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit?"))
	content.WriteString("\n\n")
	content.WriteString("Are you sure you want to quit?")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}

	if !m.ready {
		return "\n  Initializing..."
	}

	chatWidth := int(float64(m.width)*0.75) - 4
	metaWidth := m.width - chatWidth - 6

	chatPanel := chatPanelStyle.Width(chatWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.chatViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", chatWidth-4)),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	if m.err != nil {
		return lipgloss.JoinHorizontal(lipgloss.Top, chatPanel, metaPanel) + "\n" +
			errorStyle.Render("Error: "+m.err.Error())
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, chatPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar while a round runs.
func (m ConsoleUI) renderProgressBar() string {
	usable := m.chatViewport.Width - 6
	if usable <= 0 {
		usable = 30
	}
	if usable > 80 {
		usable = 80
	} else if usable < 10 {
		usable = 10
	}

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		if i < filled {
			bar.WriteString("█")
		} else if i == filled && frame%4 < 2 {
			bar.WriteString("▓")
		} else {
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

func revealTick() tea.Cmd {
	return tea.Tick(revealTickInterval, func(time.Time) tea.Msg {
		return revealTickMsg{}
	})
}

func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
