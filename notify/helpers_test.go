package notify

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"argus/core"
	"argus/storage"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testStart = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, alert RenderedAlert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func okSender() *mockSender {
	s := &mockSender{}
	s.On("Send", mock.Anything, mock.Anything).Return(nil)
	return s
}

func deliveryConfig(ch core.Channel, min core.Severity, maxAlerts, windowSeconds int) core.AlertDeliveryConfig {
	return core.AlertDeliveryConfig{
		Channel:       ch,
		MinSeverity:   min,
		MaxAlerts:     maxAlerts,
		WindowSeconds: windowSeconds,
		Enabled:       true,
	}
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	alerts     *storage.AlertStore
	clock      *core.ManualClock
}

func newFixture(t *testing.T, cfg DispatcherConfig, channels ...ChannelBinding) *dispatcherFixture {
	t.Helper()
	clock := core.NewManualClock(testStart)
	alerts := storage.NewAlertStore(4, clock)
	d, err := NewDispatcher(DispatcherDeps{
		Config:   cfg,
		Channels: channels,
		Alerts:   alerts,
		Clock:    clock,
		Logger:   zaptest.NewLogger(t).Sugar(),
	})
	require.NoError(t, err)
	return &dispatcherFixture{dispatcher: d, alerts: alerts, clock: clock}
}

func processedEvent(id string, typ core.EventType, sev core.Severity, ip string, risk int) core.SecurityEvent {
	return core.SecurityEvent{
		ID:        id,
		Type:      typ,
		Severity:  sev,
		Timestamp: testStart,
		SourceIP:  ip,
		RiskScore: risk,
	}
}

// smtpTestServer speaks just enough SMTP for net/smtp without TLS or auth
type smtpTestServer struct {
	listener net.Listener
	mu       sync.Mutex
	messages []capturedEmail
}

type capturedEmail struct {
	From string
	To   []string
	Data string
}

func newSMTPTestServer(t *testing.T) *smtpTestServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &smtpTestServer{listener: ln}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *smtpTestServer) hostPort() (string, int) {
	addr := s.listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func (s *smtpTestServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *smtpTestServer) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	reply := func(line string) { fmt.Fprintf(conn, "%s\r\n", line) }

	reply("220 argus-test ESMTP")
	var current capturedEmail
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			reply("250-argus-test")
			reply("250 8BITMIME")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			current = capturedEmail{From: between(line, "<", ">")}
			reply("250 OK")
		case strings.HasPrefix(upper, "RCPT TO:"):
			current.To = append(current.To, between(line, "<", ">"))
			reply("250 OK")
		case upper == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var data strings.Builder
			for {
				dl, err := reader.ReadString('\n')
				if err != nil {
					return
				}
				dl = strings.TrimRight(dl, "\r\n")
				if dl == "." {
					break
				}
				data.WriteString(strings.TrimPrefix(dl, "."))
				data.WriteString("\n")
			}
			current.Data = data.String()
			s.mu.Lock()
			s.messages = append(s.messages, current)
			s.mu.Unlock()
			reply("250 OK")
		case upper == "QUIT":
			reply("221 Bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func (s *smtpTestServer) captured() []capturedEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedEmail(nil), s.messages...)
}

func between(s, left, right string) string {
	i := strings.Index(s, left)
	j := strings.LastIndex(s, right)
	if i < 0 || j <= i {
		return ""
	}
	return s[i+1 : j]
}
