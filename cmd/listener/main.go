package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jdavenport/go-listenroom/internal/audio"
	"github.com/jdavenport/go-listenroom/internal/listener"
	"github.com/jdavenport/go-listenroom/internal/reconcile"
	"github.com/jdavenport/go-listenroom/internal/types"
)

var (
	serverURL string
	roomId    string
	email     string
	password  string
	output    string
	volume    float64
)

func main() {
	flag.StringVar(&serverURL, "server", "http://localhost:8000", "server base URL")
	flag.StringVar(&roomId, "room", "", "room external id to join")
	flag.StringVar(&email, "email", "", "account email")
	flag.StringVar(&password, "password", "", "account password")
	flag.StringVar(&output, "output", "speaker", "audio output: speaker or sim")
	flag.Float64Var(&volume, "volume", 1.0, "local volume multiplier (0.0-1.0)")
	flag.Parse()

	logger := log.New(os.Stderr, "[listener] ", log.LstdFlags)

	if roomId == "" || email == "" || password == "" {
		logger.Fatal("room, email and password are required")
	}

	token, err := login(serverURL, email, password)
	if err != nil {
		logger.Fatal("login:", err)
	}

	var transport reconcile.AudioTransport
	switch output {
	case "speaker":
		transport = audio.NewBeepTransport(trackResolver(serverURL, token), logger)
	case "sim":
		transport = audio.NewSimTransport(logger)
	default:
		logger.Fatalf("unknown output %q", output)
	}

	engine := reconcile.NewEngine(transport, logger, reconcile.DefaultConfig())
	engine.SetLocalVolume(volume)

	session := listener.NewSession(listener.Config{
		ServerURL:    wsURL(serverURL),
		RoomId:       roomId,
		SessionToken: token,
	}, engine, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := session.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("session:", err)
	}

	logger.Println("bye")
}

func login(baseURL, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return "", err
	}

	resp, err := http.Post(baseURL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "token" {
			return cookie.Value, nil
		}
	}

	return "", fmt.Errorf("no session cookie in login response")
}

// trackResolver resolves a track id to its stream URL via the catalog
// endpoint, using the session cookie for auth.
func trackResolver(baseURL, token string) audio.Resolver {
	return func(trackId string) (string, error) {
		req, err := http.NewRequest(http.MethodGet, baseURL+"/api/tracks?id="+trackId, nil)
		if err != nil {
			return "", err
		}
		req.AddCookie(&http.Cookie{Name: "token", Value: token})

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("resolve track: status %d", resp.StatusCode)
		}

		var track types.Track
		if err := json.NewDecoder(resp.Body).Decode(&track); err != nil {
			return "", err
		}

		return track.StreamURL, nil
	}
}

func wsURL(baseURL string) string {
	url := strings.Replace(baseURL, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/ws"
}
