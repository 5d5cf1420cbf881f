// Command feedtail signs in and prints the live view stream, one frame per
// line. Lines typed on stdin are sent as commands, for example
//
//	{"id":"1","type":"post","text":"hello"}
//	{"id":"2","type":"like","post_id":"<id>"}
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"keepto/internal/handlers"
)

func main() {
	base := flag.String("server", "http://localhost:8375", "API base URL")
	email := flag.String("email", "", "Account email")
	password := flag.String("password", "", "Account password")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if *email == "" || *password == "" {
		logger.Error("-email and -password are required")
		os.Exit(2)
	}

	token, err := signIn(*base, *email, *password)
	if err != nil {
		logger.Error("sign in failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	u, err := url.Parse(*base)
	if err != nil {
		logger.Error("bad server url", slog.String("error", err.Error()))
		os.Exit(2)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/api/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		logger.Error("connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					logger.Warn("stream ended", slog.String("error", err.Error()))
				}
				return
			}
			fmt.Println(string(msg))
		}
	}()

	go func() {
		in := bufio.NewScanner(os.Stdin)
		for in.Scan() {
			line := strings.TrimSpace(in.Text())
			if line == "" {
				continue
			}
			if !json.Valid([]byte(line)) {
				logger.Warn("not JSON, skipped")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				logger.Warn("send failed", slog.String("error", err.Error()))
				return
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	case <-done:
	}
}

func signIn(base, email, password string) (string, error) {
	body, err := json.Marshal(handlers.SigninRequest{Email: email, Password: password})
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(strings.TrimRight(base, "/")+"/api/auth/signin", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
	}
	var out handlers.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Token, nil
}
