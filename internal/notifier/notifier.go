// Package notifier delivers shown pipeline results to the wayfare tray app
// over its local webhook.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/julianstephens/wayfare/internal/constants"
	"github.com/julianstephens/wayfare/internal/logger"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/pipeline"
)

var (
	userConfigDirFunc = os.UserConfigDir
	findProcessFunc   = ps.FindProcess
)

type WebhookAction struct {
	ID     string            `json:"id"`
	Label  string            `json:"label"`
	Type   models.ActionType `json:"type"`
	SlotID string            `json:"slot_id,omitempty"`
}

type WebhookPayload struct {
	Text       string          `json:"text"`
	Tip        string          `json:"tip,omitempty"`
	EventID    string          `json:"event_id,omitempty"`
	EventType  string          `json:"event_type,omitempty"`
	Priority   string          `json:"priority,omitempty"`
	Tone       string          `json:"tone,omitempty"`
	Actions    []WebhookAction `json:"actions,omitempty"`
	DurationMs uint32          `json:"duration_ms"`
}

// Notifier posts notifications to the tray app. It satisfies pipeline.Sink.
type Notifier struct {
	client *http.Client
	// endpoint finds the tray webhook; it returns the base URL and secret.
	endpoint func() (string, string, error)
	retries  int
	delay    time.Duration
}

func New() *Notifier {
	return &Notifier{
		client:   &http.Client{Timeout: 5 * time.Second},
		endpoint: trayEndpoint,
		retries:  constants.NotifyMaxRetries,
		delay:    constants.NotifyRetryDelay,
	}
}

// Notify sends a plain text notification.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	return n.send(ctx, WebhookPayload{Text: text, DurationMs: constants.NotificationDurationMs})
}

// Deliver sends a shown pipeline result with its actions.
func (n *Notifier) Deliver(ctx context.Context, res pipeline.Result) error {
	return n.send(ctx, PayloadFor(res))
}

func PayloadFor(res pipeline.Result) WebhookPayload {
	ev := res.Event
	p := WebhookPayload{
		Text:       ev.Message,
		Tip:        ev.Tip,
		EventID:    ev.ID,
		EventType:  string(ev.Type),
		Priority:   string(ev.Priority),
		Tone:       string(res.Tone),
		DurationMs: constants.NotificationDurationMs,
	}
	if ev.Priority == models.PriorityUrgent {
		p.DurationMs *= 2
	}
	for _, a := range ev.Actions {
		p.Actions = append(p.Actions, WebhookAction{ID: a.ID, Label: a.Label, Type: a.Type, SlotID: a.SlotID})
	}
	return p
}

func (n *Notifier) send(ctx context.Context, payload WebhookPayload) error {
	url, secret, err := n.endpoint()
	if err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		err = post(ctx, n.client, url, secret, payload)
		var perm *permanentError
		if err == nil || errors.As(err, &perm) || attempt+1 >= n.retries {
			return err
		}
		logger.Debug("Notification failed, retrying", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.delay):
		}
	}
}

// GetTrayAppConfigDir returns the configuration directory used by the tray application.
func GetTrayAppConfigDir() (string, error) {
	configDir, err := userConfigDirFunc()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}

	trayConfigDir := filepath.Join(configDir, constants.TrayAppIdentifier)

	// settings.json may point the lockfile somewhere else
	data, err := os.ReadFile(filepath.Join(trayConfigDir, "settings.json"))
	if err == nil {
		var store struct {
			Settings struct {
				LockfileDir *string `json:"lockfile_dir"`
			} `json:"settings"`
		}
		if err := json.Unmarshal(data, &store); err == nil && store.Settings.LockfileDir != nil && *store.Settings.LockfileDir != "" {
			return *store.Settings.LockfileDir, nil
		}
	}

	return trayConfigDir, nil
}

func trayEndpoint() (string, string, error) {
	dir, err := GetTrayAppConfigDir()
	if err != nil {
		return "", "", err
	}
	port, secret, err := findAndValidateTrayProcess(filepath.Join(dir, constants.NotifierLockfileName))
	if err != nil {
		return "", "", err
	}
	return "http://127.0.0.1:" + port, secret, nil
}

// findAndValidateTrayProcess reads a port|pid|secret lockfile and checks
// the pid belongs to the tray app.
func findAndValidateTrayProcess(lockfilePath string) (string, string, error) {
	content, err := os.ReadFile(lockfilePath)
	if err != nil {
		return "", "", errors.New("wayfare tray is not running")
	}

	parts := strings.Split(strings.TrimSpace(string(content)), "|")
	if len(parts) != 3 {
		return "", "", errors.New("lockfile is malformed")
	}

	port := strings.TrimSpace(parts[0])
	if port == "" {
		return "", "", errors.New("port in lockfile is empty")
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return "", "", errors.New("invalid port number in lockfile")
	}
	if portNum < 1 || portNum > 65535 {
		return "", "", fmt.Errorf("port number %d is outside valid range (1-65535)", portNum)
	}

	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", "", errors.New("invalid process ID in lockfile")
	}
	secret := parts[2]
	if strings.TrimSpace(secret) == "" {
		return "", "", errors.New("secret in lockfile is empty")
	}

	process, err := findProcessFunc(pid)
	if err != nil || process == nil {
		return "", "", errors.New("wayfare tray process not running")
	}
	if !strings.HasPrefix(process.Executable(), constants.TrayProcessPrefix) {
		return "", "", fmt.Errorf("process with PID %d is not %s (is %s)", pid, constants.TrayProcessPrefix, process.Executable())
	}

	return port, secret, nil
}

// permanentError is a rejection that retrying will not fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func post(ctx context.Context, client *http.Client, url, secret string, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &permanentError{err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &permanentError{err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Wayfare-Secret", secret)

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}
	msg, _ := io.ReadAll(res.Body)
	err = fmt.Errorf("notification failed with status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	if res.StatusCode < 500 {
		return &permanentError{err}
	}
	return err
}
