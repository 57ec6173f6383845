package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	domainTelegram "membership_billing/internal/domain/telegram"
	"membership_billing/internal/infra/logger"
)

const alertBuffer = 64

// AlertHook forwards critical log entries to the operator chat. Fire never
// blocks: when the buffer is full the alert is dropped.
type AlertHook struct {
	client  domainTelegram.Client
	chatID  int64
	alerts  chan string
	dropped atomic.Int64
}

func NewAlertHook(client domainTelegram.Client, chatID int64) *AlertHook {
	return &AlertHook{
		client: client,
		chatID: chatID,
		alerts: make(chan string, alertBuffer),
	}
}

func (h *AlertHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

func (h *AlertHook) Fire(e *logrus.Entry) error {
	if !logger.IsCritical(e) {
		return nil
	}
	select {
	case h.alerts <- formatAlert(e):
	default:
		h.dropped.Add(1)
	}
	return nil
}

// Run delivers queued alerts until ctx is done. A failed send is not
// logged: that would raise another alert.
func (h *AlertHook) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-h.alerts:
			_ = h.client.SendMessage(ctx, h.chatID, text)
		}
	}
}

func formatAlert(e *logrus.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CRITICAL %s\n%s", e.Time.Format("2006-01-02 15:04:05"), e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		if k == logger.SeverityField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s=%v", k, e.Data[k])
	}
	return b.String()
}

// Dropped reports how many alerts were discarded because the queue was full.
func (h *AlertHook) Dropped() int64 {
	return h.dropped.Load()
}
