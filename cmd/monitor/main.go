package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"colloquy/internal/domain"
)

type client struct {
	baseURL string
	http    *http.Client
}

type embeddedInterviewer struct {
	cmd *exec.Cmd
}

// eventView mirrors a bus event without binding the payload to a concrete
// type; the server emits several payload shapes behind one interface.
type eventView struct {
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func main() {
	addr := flag.String("addr", "http://localhost:8090", "interviewer base URL")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	embedded := flag.Bool("embedded", true, "start interviewer in the same monitor process lifecycle")
	interviewerBinary := flag.String("interviewer-bin", "", "path to interviewer binary (optional in embedded mode)")
	provider := flag.String("provider", "", "reasoning provider for embedded interviewer")
	flag.Parse()

	c := &client{
		baseURL: strings.TrimRight(*addr, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	var embeddedProc *embeddedInterviewer
	var err error
	if *embedded {
		embeddedProc, err = startEmbeddedInterviewer(*addr, *interviewerBinary, *provider)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start embedded interviewer: %v\n", err)
			os.Exit(1)
		}
		defer embeddedProc.Stop()
	}

	if err := waitHealth(c, 30*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "interviewer health check failed: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	topicsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	topicsTable.SetTitle("Topics (Enter inspect, F5 refresh, F10 quit)").SetBorder(true)

	transcriptView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true)
	transcriptView.SetTitle("Transcript").SetBorder(true)

	eventsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	eventsView.SetTitle("Events").SetBorder(true)

	sessionView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	sessionView.SetTitle("Session").SetBorder(true)

	probesView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	probesView.SetTitle("Probe History").SetBorder(true)

	answerInput := tview.NewInputField().
		SetLabel("Answer -> Interviewer: ")
	answerInput.SetBorder(true).SetTitle("Enter = submit answer to active topic")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf(
		"Connected to %s | embedded=%t | shortcuts: F2 start, F3 end, F4 reset, F5 refresh, F10 quit, Ctrl+L answer, Ctrl+T topics",
		c.baseURL,
		*embedded,
	))

	rightTop := tview.NewFlex().
		AddItem(transcriptView, 0, 2, false).
		AddItem(eventsView, 0, 1, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(rightTop, 0, 3, false).
		AddItem(sessionView, 9, 0, false).
		AddItem(probesView, 0, 2, false)

	mainLayout := tview.NewFlex().
		AddItem(topicsTable, 0, 1, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(answerInput, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	var selectedTopicID string
	var lastSession domain.Session
	var lastTopics []domain.Topic
	var detailsVersion uint64

	setStatusUI := func(msg string) {
		statusView.SetText(msg)
	}
	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refreshSession := func() {
		session, err := c.getState()
		if err != nil {
			app.QueueUpdateDraw(func() {
				sessionView.SetText(fmt.Sprintf("load error: %v", err))
			})
			return
		}
		topics, err := c.listTopics()
		if err != nil {
			app.QueueUpdateDraw(func() {
				topicsTable.Clear()
				topicsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", err)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
			})
			return
		}
		events, eventsErr := c.listEvents(200)

		lastSession = session
		lastTopics = topics
		if selectedTopicID == "" && session.ActiveTopic != nil {
			selectedTopicID = string(*session.ActiveTopic)
		}
		app.QueueUpdateDraw(func() {
			renderTopicsTable(topicsTable, topics, session, selectedTopicID)
			sessionView.SetText(renderSession(session, topics, events))
			transcriptView.SetText(renderTranscript(session.History))
			transcriptView.ScrollToEnd()
			if eventsErr != nil {
				eventsView.SetText(fmt.Sprintf("error: %v", eventsErr))
			} else {
				eventsView.SetText(renderEvents(events))
				eventsView.ScrollToEnd()
			}
		})
	}

	refreshProbesAsync := func(topicID string) {
		if strings.TrimSpace(topicID) == "" {
			return
		}
		version := atomic.AddUint64(&detailsVersion, 1)
		app.QueueUpdateDraw(func() {
			probesView.SetText("Loading...")
		})

		go func(selected string, v uint64) {
			entries, err := c.probeHistory(selected)
			if atomic.LoadUint64(&detailsVersion) != v {
				return
			}
			app.QueueUpdateDraw(func() {
				if selected != selectedTopicID {
					return
				}
				if err != nil {
					probesView.SetText(fmt.Sprintf("error: %v", err))
					return
				}
				probesView.SetText(renderProbes(selected, entries))
			})
		}(topicID, version)
	}

	submitAnswer := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if lastSession.ActiveTopic == nil {
			setStatusUI("No active topic; start a session first (F2)")
			return
		}
		topic := string(*lastSession.ActiveTopic)
		setStatusUI("Submitting answer...")
		answerInput.SetText("")
		go func(topicID, answer string) {
			if err := c.postResponse(topicID, answer); err != nil {
				setStatusAsync("Failed to submit answer: " + err.Error())
				return
			}
			refreshSession()
			refreshProbesAsync(selectedTopicID)
			setStatusAsync("Answer recorded for topic " + topicID)
		}(topic, text)
	}

	answerInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		submitAnswer(answerInput.GetText())
	})

	topicsTable.SetSelectedFunc(func(row, _ int) {
		if row <= 0 || row > len(lastTopics) {
			return
		}
		selectedTopicID = string(lastTopics[row-1].ID)
		refreshProbesAsync(selectedTopicID)
	})

	sessionAction := func(verb, path string) {
		setStatusUI(verb + "...")
		go func() {
			if err := c.postJSON(path, map[string]any{}, nil); err != nil {
				setStatusAsync(verb + " failed: " + err.Error())
				return
			}
			refreshSession()
			setStatusAsync(verb + " done")
		}()
	}

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if app.GetFocus() == answerInput {
			switch event.Key() {
			case tcell.KeyEscape, tcell.KeyTAB:
				app.SetFocus(topicsTable)
				setStatusUI("Focus -> topics")
				return nil
			case tcell.KeyF2, tcell.KeyF3, tcell.KeyF4, tcell.KeyF5, tcell.KeyF10:
				// handled by the global bindings below
			default:
				return event
			}
		}

		if event.Key() == tcell.KeyEscape {
			app.SetFocus(topicsTable)
			setStatusUI("Focus -> topics")
			return nil
		}
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go refreshSession()
			refreshProbesAsync(selectedTopicID)
			setStatusUI("Manual refresh complete")
			return nil
		case tcell.KeyF2:
			sessionAction("Start session", "/session/start")
			return nil
		case tcell.KeyF3:
			sessionAction("End session", "/session/end")
			return nil
		case tcell.KeyF4:
			sessionAction("Reset session", "/session/reset")
			return nil
		case tcell.KeyCtrlL:
			app.SetFocus(answerInput)
			setStatusUI("Focus -> answer")
			return nil
		case tcell.KeyCtrlT:
			app.SetFocus(topicsTable)
			setStatusUI("Focus -> topics")
			return nil
		}
		if event.Key() == tcell.KeyTAB {
			if app.GetFocus() == answerInput {
				app.SetFocus(topicsTable)
			} else {
				app.SetFocus(answerInput)
			}
			return nil
		}
		if event.Key() == tcell.KeyRune {
			app.SetFocus(answerInput)
			return event
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		refreshSession()
		if selectedTopicID != "" {
			refreshProbesAsync(selectedTopicID)
		}

		for range ticker.C {
			refreshSession()
			if selectedTopicID == "" && len(lastTopics) > 0 {
				selectedTopicID = string(lastTopics[0].ID)
			}
			refreshProbesAsync(selectedTopicID)
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(answerInput).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func waitHealth(c *client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/healthz", nil)
		if err == nil {
			resp, err := c.http.Do(req)
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode < 300 {
					return nil
				}
			}
		}
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for /healthz")
}

func startEmbeddedInterviewer(addr string, interviewerBinary string, provider string) (*embeddedInterviewer, error) {
	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	port := parsed.Port()
	if port == "" {
		return nil, fmt.Errorf("addr must include explicit port, got %q", addr)
	}
	addrArg := "127.0.0.1:" + port

	args := []string{"--addr", addrArg}
	if strings.TrimSpace(provider) != "" {
		args = append(args, "--provider", provider)
	}

	var cmd *exec.Cmd
	if strings.TrimSpace(interviewerBinary) != "" {
		cmd = exec.Command(interviewerBinary, args...)
	} else {
		self, err := os.Executable()
		if err == nil {
			sibling := filepath.Join(filepath.Dir(self), "interviewer")
			if fileExists(sibling) {
				cmd = exec.Command(sibling, args...)
			}
		}
		if cmd == nil {
			cmd = exec.Command("go", append([]string{"run", "./cmd/interviewer"}, args...)...)
			cwd, _ := os.Getwd()
			cmd.Dir = cwd
		}
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start interviewer process: %w", err)
	}

	return &embeddedInterviewer{cmd: cmd}, nil
}

func (e *embeddedInterviewer) Stop() {
	if e == nil || e.cmd == nil || e.cmd.Process == nil {
		return
	}
	_ = e.cmd.Process.Kill()
	_, _ = e.cmd.Process.Wait()
}

func renderTopicsTable(table *tview.Table, topics []domain.Topic, session domain.Session, selectedTopicID string) {
	table.Clear()
	headers := []string{"Topic", "Status", "Score", "Answers", "Question"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, topic := range topics {
		row := i + 1
		status := "pending"
		if session.ActiveTopic != nil && *session.ActiveTopic == topic.ID {
			status = "active"
		} else if _, scored := session.Scores[topic.ID]; scored {
			status = "done"
		}
		score := "-"
		if v, ok := session.Scores[topic.ID]; ok {
			score = fmt.Sprintf("%d", v)
		}
		table.SetCell(row, 0, tview.NewTableCell(string(topic.ID)))
		table.SetCell(row, 1, tview.NewTableCell(status))
		table.SetCell(row, 2, tview.NewTableCell(score))
		table.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf("%d", len(session.Responses[topic.ID]))))
		table.SetCell(row, 4, tview.NewTableCell(trimLine(topic.PromptQuestion, 48)))
		if string(topic.ID) == selectedTopicID {
			table.Select(row, 0)
		}
	}
}

func renderTranscript(history []domain.HistoryEntry) string {
	if len(history) == 0 {
		return "No conversation yet"
	}
	var b strings.Builder
	for _, entry := range history {
		b.WriteString(fmt.Sprintf(
			"[%s] %s: %s\n",
			entry.Timestamp.Format("15:04:05"),
			entry.Role,
			entry.Content,
		))
	}
	return b.String()
}

func renderEvents(events []eventView) string {
	if len(events) == 0 {
		return "No events"
	}
	var b strings.Builder
	for _, ev := range events {
		b.WriteString(fmt.Sprintf(
			"[%s] %-22s %s\n",
			ev.Timestamp.Format("15:04:05"),
			ev.Kind,
			trimLine(payloadSummary(ev.Payload), 120),
		))
	}
	return b.String()
}

func renderSession(session domain.Session, topics []domain.Topic, events []eventView) string {
	var b strings.Builder
	active := "-"
	if session.ActiveTopic != nil {
		active = string(*session.ActiveTopic)
	}
	started := "-"
	if session.StartedAt != nil {
		started = session.StartedAt.Format("15:04:05")
	}
	b.WriteString(fmt.Sprintf("Session: %s  status=%s  topic=%s  started=%s\n", shortID(session.ID), session.Status, active, started))

	if pressure, remainingMS, ok := latestPace(events); ok {
		b.WriteString(fmt.Sprintf("Pace: pressure=%s remaining=%s\n", pressure, (time.Duration(remainingMS) * time.Millisecond).Round(time.Second)))
	} else {
		b.WriteString("Pace: no observation yet\n")
	}

	if kind, reason, ok := latestDirective(events); ok {
		b.WriteString(fmt.Sprintf("Last directive: %s  reason: %s\n", kind, trimLine(reason, 90)))
	}

	scored := 0
	for _, topic := range topics {
		if _, ok := session.Scores[topic.ID]; ok {
			scored++
		}
	}
	b.WriteString(fmt.Sprintf("Coverage: %d/%d topics scored\n", scored, len(topics)))
	return b.String()
}

func renderProbes(topicID string, entries []domain.ProbeHistoryEntry) string {
	if len(entries) == 0 {
		return fmt.Sprintf("No probes recorded for %s", topicID)
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Topic: %s\n", topicID))
	for i, entry := range entries {
		b.WriteString(fmt.Sprintf(
			"%d. rating=%d recommendation=%s decision=%s\n   answer: %s\n",
			i+1,
			entry.Rating,
			entry.Recommendation,
			entry.Decision,
			trimLine(entry.ResponseSummary, 110),
		))
	}
	return b.String()
}

// latestPace walks events newest-first for the last timekeeper observation.
func latestPace(events []eventView) (pressure string, remainingMS float64, ok bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind != string(domain.EventAgentObservation) {
			continue
		}
		var obs struct {
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal(events[i].Payload, &obs); err != nil {
			continue
		}
		p, hasPressure := obs.Payload["pressure"].(string)
		if !hasPressure {
			continue
		}
		remaining, _ := obs.Payload["remaining_ms"].(float64)
		return p, remaining, true
	}
	return "", 0, false
}

func latestDirective(events []eventView) (kind, reason string, ok bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind != string(domain.EventCoordinatorDirective) {
			continue
		}
		var directive struct {
			Kind   string `json:"kind"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(events[i].Payload, &directive); err != nil {
			continue
		}
		return directive.Kind, directive.Reason, true
	}
	return "", "", false
}

func payloadSummary(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return ""
	}

	var kv map[string]any
	if err := json.Unmarshal(payload, &kv); err == nil {
		keys := make([]string, 0, len(kv))
		for k := range kv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, kv[k]))
		}
		return strings.Join(parts, ", ")
	}
	return trimmed
}

func (c *client) getState() (domain.Session, error) {
	var out domain.Session
	if err := c.getJSON("/state", &out); err != nil {
		return domain.Session{}, err
	}
	return out, nil
}

func (c *client) listTopics() ([]domain.Topic, error) {
	var out []domain.Topic
	if err := c.getJSON("/topics", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listEvents(limit int) ([]eventView, error) {
	var out []eventView
	if err := c.getJSON(fmt.Sprintf("/events?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) probeHistory(topicID string) ([]domain.ProbeHistoryEntry, error) {
	var out []domain.ProbeHistoryEntry
	if err := c.getJSON("/probes/"+topicID, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) postResponse(topicID, text string) error {
	return c.postJSON("/responses", map[string]any{
		"topic": topicID,
		"text":  text,
	}, nil)
}

func (c *client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return err
	}
	return nil
}

func (c *client) postJSON(path string, in any, out any) error {
	var payload io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return err
	}
	return nil
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
