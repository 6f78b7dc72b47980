package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/rangepull/internal/utils"
	"golang.org/x/term"
)

const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusRetrying = "retrying"
	StatusSuccess  = "success"
	StatusError    = "error"
)

type JobOutput struct {
	ID          int
	Label       string
	Status      string
	Message     string
	Bytes       int64
	Chunks      int
	Retries     int
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager tracks every download of a run and redraws their status lines
// in place while the display is running.
type Manager struct {
	out         io.Writer
	interactive bool
	outputs     []*JobOutput
	mutex       sync.RWMutex
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	displayWg   sync.WaitGroup
}

func NewManager() *Manager {
	m := NewManagerWithWriter(os.Stdout)
	m.interactive = term.IsTerminal(int(os.Stdout.Fd()))
	return m
}

// NewManagerWithWriter renders to w without in-place redraws.
func NewManagerWithWriter(w io.Writer) *Manager {
	return &Manager{
		out:         w,
		doneCh:      make(chan struct{}),
		displayTick: 200 * time.Millisecond,
	}
}

func (m *Manager) Register(label string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	now := time.Now()
	m.outputs = append(m.outputs, &JobOutput{
		ID:          len(m.outputs) + 1,
		Label:       label,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
	})
	return len(m.outputs)
}

func (m *Manager) get(id int) *JobOutput {
	if id < 1 || id > len(m.outputs) {
		return nil
	}
	return m.outputs[id-1]
}

func (m *Manager) SetMessage(id int, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info := m.get(id); info != nil {
		if info.Status == StatusPending {
			info.Status = StatusActive
			info.StartTime = time.Now()
		}
		info.Message = message
		info.LastUpdated = time.Now()
	}
}

// UpdateProgress records the running totals after a committed chunk.
func (m *Manager) UpdateProgress(id int, bytes int64, chunks int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info := m.get(id); info != nil {
		info.Bytes = bytes
		info.Chunks = chunks
		info.Status = StatusActive
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) MarkRetry(id int, retries int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info := m.get(id); info != nil {
		info.Retries = retries
		info.Status = StatusRetrying
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) Complete(id int, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info := m.get(id); info != nil {
		if message == "" {
			message = fmt.Sprintf("Completed %s", info.Label)
		}
		info.Message = message
		info.Complete = true
		info.Status = StatusSuccess
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) ReportError(id int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info := m.get(id); info != nil {
		info.Complete = true
		info.Status = StatusError
		info.Error = err
		info.Message = fmt.Sprintf("Failed %s", info.Label)
		info.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{Label: info.Label, Error: err, Time: time.Now()})
	}
}

func (m *Manager) GetStatus(id int) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if info := m.get(id); info != nil {
		return info.Status
	}
	return "unknown"
}

// Counts returns how many registered jobs succeeded and failed.
func (m *Manager) Counts() (success, failed int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, info := range m.outputs {
		switch info.Status {
		case StatusSuccess:
			success++
		case StatusError:
			failed++
		}
	}
	return success, failed
}

func statusIndicator(status string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case StatusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case StatusRetrying:
		return warningStyle.Render(StyleSymbols["retry"])
	case StatusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func progressLine(info *JobOutput, elapsed time.Duration) string {
	parts := []string{
		utils.FormatBytes(uint64(info.Bytes)),
		fmt.Sprintf("%d chunks", info.Chunks),
		utils.FormatSpeed(info.Bytes, elapsed.Seconds()),
	}
	if info.Retries > 0 {
		parts = append(parts, fmt.Sprintf("%d retries", info.Retries))
	}
	return strings.Join(parts, " "+StyleSymbols["bullet"]+" ")
}

// render builds the status block, at most maxLines long.
func (m *Manager) render(maxLines int) []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var lines []string
	for _, info := range m.outputs {
		if len(lines) >= maxLines {
			break
		}
		elapsed := time.Since(info.StartTime)
		if info.Complete {
			elapsed = info.LastUpdated.Sub(info.StartTime)
		}
		var styled string
		switch info.Status {
		case StatusSuccess:
			styled = successStyle.Render(info.Message)
		case StatusError:
			styled = errorStyle.Render(info.Message)
		case StatusRetrying:
			styled = warningStyle.Render(info.Message)
		case StatusPending:
			styled = pendingStyle.Render("Waiting...")
		default:
			styled = pendingStyle.Render(info.Message)
		}
		lines = append(lines, fmt.Sprintf("  %s %s %s", statusIndicator(info.Status), debugStyle.Render(elapsed.Round(time.Second).String()), styled))
		if info.Status != StatusPending && len(lines) < maxLines {
			lines = append(lines, "      "+streamStyle.Render(progressLine(info, elapsed)))
		}
	}
	return lines
}

func (m *Manager) updateDisplay() {
	_, termHeight, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || termHeight <= 0 {
		termHeight = 24
	}
	lines := m.render(termHeight - 3)
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if m.interactive {
					m.updateDisplay()
				}
			case <-m.doneCh:
				if m.interactive {
					m.updateDisplay()
				} else {
					for _, line := range m.render(1 << 20) {
						fmt.Fprintln(m.out, line)
					}
				}
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

func (m *Manager) ShowSummary() {
	success, failures := m.Counts()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	total := len(m.outputs)
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "  "+debugStyle.Render(strings.Repeat(StyleSymbols["hline"], 40)))
	fmt.Fprintln(m.out, "  "+summaryStyle.Render(fmt.Sprintf("Completed %d of %d", success, total)))
	if failures > 0 {
		fmt.Fprintln(m.out, "  "+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, total)))
	}
	if len(m.errors) > 0 {
		fmt.Fprintln(m.out)
		fmt.Fprintln(m.out, "  "+errorStyle.Bold(true).Render("Errors:"))
		for i, report := range m.errors {
			fmt.Fprintf(m.out, "    %s %s %s\n",
				errorStyle.Render(fmt.Sprintf("%d.", i+1)),
				debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
				errorStyle.Render(report.Label))
			fmt.Fprintf(m.out, "      %s\n", errorStyle.Render(fmt.Sprintf("Error: %v", report.Error)))
		}
	}
	fmt.Fprintln(m.out)
}
