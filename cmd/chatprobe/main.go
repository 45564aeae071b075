// Command chatprobe exercises the realtime gateway from the outside: it logs
// in, redeems a WebSocket ticket, joins rooms and reports every event the
// server fans out. With -clients > 1 it doubles as a small load generator.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type metrics struct {
	connectionsAttempted int64
	connectionsSuccess   int64
	connectionsFailed    int64
	framesSent           int64
	framesReceived       int64
	errors               int64
}

var stats metrics

func main() {
	host := flag.String("host", "localhost:8420", "API server host")
	email := flag.String("email", "admin@acme.test", "User email")
	password := flag.String("password", "password123", "User password")
	conversation := flag.Uint("conversation", 0, "Conversation ID to join explicitly (0 = join all)")
	clients := flag.Int("clients", 1, "Number of concurrent connections")
	duration := flag.Duration("duration", 30*time.Second, "Probe duration")
	verbose := flag.Bool("v", false, "Print every received event")
	flag.Parse()

	log.Printf("chatprobe: target=%s clients=%d duration=%v", *host, *clients, *duration)

	token, err := login(*host, *email, *password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go runClient(*host, token, uint(*conversation), *verbose && *clients == 1, stop, &wg)
		// Stagger connections so each one gets a fresh ticket.
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case <-time.After(*duration):
		log.Println("probe duration reached")
	case <-interrupt:
		log.Println("interrupted")
	}

	close(stop)
	wg.Wait()
	printStats()
}

func login(host, email, password string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(fmt.Sprintf("http://%s/api/auth/login", host), "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Token, nil
}

func getTicket(host, token string) (string, error) {
	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/api/ws/ticket", host), nil)
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("ticket issuance failed with status %d", resp.StatusCode)
	}

	var result struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Ticket, nil
}

func runClient(host, token string, conversation uint, verbose bool, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&stats.connectionsAttempted, 1)

	// Tickets are single-use, so every connection redeems its own.
	ticket, err := getTicket(host, token)
	if err != nil {
		atomic.AddInt64(&stats.connectionsFailed, 1)
		log.Printf("ticket error: %v", err)
		return
	}

	u := url.URL{Scheme: "ws", Host: host, Path: "/api/ws", RawQuery: "ticket=" + ticket}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		atomic.AddInt64(&stats.connectionsFailed, 1)
		log.Printf("dial error: %v", err)
		return
	}
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	atomic.AddInt64(&stats.connectionsSuccess, 1)

	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			atomic.AddInt64(&stats.framesReceived, 1)
			if verbose {
				log.Printf("<- %s", frame)
			}
		}
	}()

	send := func(event string, payload interface{}) {
		frame, _ := json.Marshal(map[string]interface{}{"event": event, "payload": payload})
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			atomic.AddInt64(&stats.errors, 1)
			return
		}
		atomic.AddInt64(&stats.framesSent, 1)
	}

	if conversation != 0 {
		send("join-conversation", map[string]uint{"conversation_id": conversation})
	} else {
		send("join-conversations", map[string]interface{}{})
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	typing := false
	for {
		select {
		case <-stop:
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if conversation != 0 {
				typing = !typing
				send("typing", map[string]interface{}{"conversation_id": conversation, "is_typing": typing})
			}
		}
	}
}

func printStats() {
	log.Println("probe results:")
	log.Printf("  connections attempted: %d", atomic.LoadInt64(&stats.connectionsAttempted))
	log.Printf("  connections succeeded: %d", atomic.LoadInt64(&stats.connectionsSuccess))
	log.Printf("  connections failed:    %d", atomic.LoadInt64(&stats.connectionsFailed))
	log.Printf("  frames sent:           %d", atomic.LoadInt64(&stats.framesSent))
	log.Printf("  frames received:       %d", atomic.LoadInt64(&stats.framesReceived))
	log.Printf("  errors:                %d", atomic.LoadInt64(&stats.errors))
}
