package mailer

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshdurbin/strava-weekly/internal/apperr"
	"github.com/joshdurbin/strava-weekly/internal/config"
)

// fakeSMTP accepts connections on a loopback port and speaks just enough
// SMTP for a plain, PLAIN-authenticated delivery. Each received DATA payload
// is sent on the returned channel.
func fakeSMTP(t *testing.T) (port int, accepted *int32, messages <-chan string) {
	return fakeSMTPOn(t, "127.0.0.1")
}

func fakeSMTPOn(t *testing.T, host string) (port int, accepted *int32, messages <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var count int32
	out := make(chan string, 4)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			atomic.AddInt32(&count, 1)
			go serveSMTP(conn, out)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, &count, out
}

func serveSMTP(conn net.Conn, out chan<- string) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	r := bufio.NewReader(conn)
	reply := func(lines ...string) {
		for _, l := range lines {
			conn.Write([]byte(l + "\r\n"))
		}
	}

	reply("220 localhost ESMTP fake")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))

		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			reply("250-localhost", "250 AUTH PLAIN")
		case strings.HasPrefix(cmd, "AUTH PLAIN"):
			reply("235 2.7.0 Authentication successful")
		case cmd == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var data strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				data.WriteString(l)
			}
			out <- data.String()
			reply("250 2.0.0 Ok: queued")
		case cmd == "QUIT":
			reply("221 2.0.0 Bye")
			return
		default:
			reply("250 2.0.0 Ok")
		}
	}
}

func smtpSettings(port int) config.SMTP {
	return config.SMTP{
		Host:     "127.0.0.1",
		Port:     strconv.Itoa(port),
		User:     "coach",
		Password: "secret",
		From:     "coach@example.com",
		To:       "athlete@example.com",
	}
}

func TestSecurityForPort(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SecuritySTARTTLS, SecurityForPort(587))
	assert.Equal(t, SecurityImplicitTLS, SecurityForPort(465))
	assert.Equal(t, SecurityNone, SecurityForPort(25))
	assert.Equal(t, SecurityNone, SecurityForPort(2525))
	assert.Equal(t, "starttls", SecurityForPort(587).String())
}

func TestSendMissingSettingsFailsWithoutConnecting(t *testing.T) {
	t.Parallel()

	port, accepted, _ := fakeSMTP(t)

	cfg := smtpSettings(port)
	cfg.User = ""
	cfg.Password = ""
	cfg.To = ""

	err := NewSMTPSender(cfg).Send(context.Background(), "subject", "body")

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeConfig))
	for _, name := range []string{"SMTP_USER", "SMTP_PASS", "TO_EMAIL"} {
		assert.Contains(t, err.Error(), name)
	}
	assert.NotContains(t, err.Error(), "SMTP_HOST")
	assert.Zero(t, atomic.LoadInt32(accepted), "no connection may be attempted")
}

func TestSendMalformedPort(t *testing.T) {
	t.Parallel()

	cfg := smtpSettings(25)
	cfg.Port = "smtp"

	err := NewSMTPSender(cfg).Send(context.Background(), "subject", "body")

	assert.True(t, apperr.Is(err, apperr.CodeConfig))
	assert.Contains(t, err.Error(), "SMTP_PORT")
}

func TestSend(t *testing.T) {
	t.Parallel()

	port, accepted, messages := fakeSMTP(t)

	body := "# Weekly report (1 activities)\n\nTotal training time: 0.50 hours\n"
	err := NewSMTPSender(smtpSettings(port)).Send(context.Background(), "Weekly training report (2024-12-30 to 2025-01-05)", body)
	require.NoError(t, err)

	select {
	case data := <-messages:
		assert.Contains(t, data, "Subject: Weekly training report (2024-12-30 to 2025-01-05)")
		assert.Contains(t, data, "From: <coach@example.com>")
		assert.Contains(t, data, "To: <athlete@example.com>")
		assert.Contains(t, data, "text/plain")
		assert.Contains(t, strings.ToUpper(data), "CHARSET=UTF-8")
		assert.Contains(t, data, "Total training time: 0.50 hours")
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(accepted))
}

func TestSendPlainToRemoteHost(t *testing.T) {
	t.Parallel()

	// Any loopback address other than 127.0.0.1 counts as a remote host
	port, accepted, messages := fakeSMTPOn(t, "127.0.0.2")

	cfg := smtpSettings(port)
	cfg.Host = "127.0.0.2"

	err := NewSMTPSender(cfg).Send(context.Background(), "Weekly training report", "body")
	require.NoError(t, err)

	select {
	case data := <-messages:
		assert.Contains(t, data, "Subject: Weekly training report")
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(accepted))
}

func TestSendUnreachableServer(t *testing.T) {
	t.Parallel()

	// Grab a free port and close it so the dial is refused
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	err = NewSMTPSender(smtpSettings(port)).Send(context.Background(), "subject", "body")

	assert.True(t, apperr.Is(err, apperr.CodeUpstream))
}
