// Session channel load testing tool for massagesync.
// Each simulated session creates a record, attaches a practitioner and a
// client, and has the client stream live_feedback while the practitioner
// periodically sends preferences_update.
// Usage: go run test/loadtest/ws-loadtest.go -url http://127.0.0.1:8001 -sessions 100 -duration 60s
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

var pressures = []string{"light", "medium", "firm"}

func main() {
	baseURL := flag.String("url", "http://127.0.0.1:8001", "Base URL of the session service")
	sessions := flag.Int("sessions", 10, "Number of concurrent sessions (two connections each)")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	msgInterval := flag.Duration("interval", 1*time.Second, "Feedback send interval per session")
	prefEvery := flag.Int("pref-every", 5, "Send a preferences_update every N feedback messages")
	flag.Parse()

	fmt.Printf("massagesync Load Test\n")
	fmt.Printf("  URL:          %s\n", *baseURL)
	fmt.Printf("  Sessions:     %d\n", *sessions)
	fmt.Printf("  Duration:     %s\n", *duration)
	fmt.Printf("  Msg interval: %s\n", *msgInterval)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	// Handle interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()

	var (
		created      atomic.Int64
		connected    atomic.Int64
		sent         atomic.Int64
		received     atomic.Int64
		errors       atomic.Int64
		connectFails atomic.Int64
	)

	wsBase := "ws" + strings.TrimPrefix(*baseURL, "http")

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *sessions; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			sessionID, err := createSession(ctx, *baseURL, fmt.Sprintf("load-%d", id))
			if err != nil {
				connectFails.Add(1)
				return
			}
			created.Add(1)

			conns := make(map[string]*websocket.Conn, 2)
			for _, role := range []string{"practitioner", "client"} {
				c, _, err := websocket.Dial(ctx, wsBase+"/api/ws/"+sessionID+"/"+role, nil)
				if err != nil {
					connectFails.Add(1)
					return
				}
				connected.Add(1)
				defer c.CloseNow()
				conns[role] = c

				// Read goroutine
				go func() {
					for {
						_, _, err := c.Read(ctx)
						if err != nil {
							return
						}
						received.Add(1)
					}
				}()
			}

			// Write loop
			ticker := time.NewTicker(*msgInterval)
			defer ticker.Stop()

			for n := 0; ; n++ {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					feedback := []byte(fmt.Sprintf(`{"type":"live_feedback","data":{"seq":%d,"comfort":"good"}}`, n))
					if err := conns["client"].Write(ctx, websocket.MessageText, feedback); err != nil {
						errors.Add(1)
						return
					}
					sent.Add(1)

					if *prefEvery > 0 && n%*prefEvery == 0 {
						pref := []byte(fmt.Sprintf(`{"type":"preferences_update","data":{"pressure":%q}}`, pressures[n%len(pressures)]))
						if err := conns["practitioner"].Write(ctx, websocket.MessageText, pref); err != nil {
							errors.Add(1)
							return
						}
						sent.Add(1)
					}
				}
			}
		}(i)
	}

	// Progress reporting
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				elapsed := time.Since(start).Round(time.Second)
				fmt.Printf("[%s] sessions=%d connected=%d sent=%d recv=%d errors=%d connect_fails=%d\n",
					elapsed, created.Load(), connected.Load(), sent.Load(), received.Load(), errors.Load(), connectFails.Load())
			}
		}
	}()

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println()
	fmt.Println("Results:")
	fmt.Printf("  Duration:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Sessions:        %d / %d\n", created.Load(), *sessions)
	fmt.Printf("  Connected:       %d / %d\n", connected.Load(), 2**sessions)
	fmt.Printf("  Connect fails:   %d\n", connectFails.Load())
	fmt.Printf("  Messages sent:   %d\n", sent.Load())
	fmt.Printf("  Messages recv:   %d\n", received.Load())
	fmt.Printf("  Errors:          %d\n", errors.Load())
	if elapsed.Seconds() > 0 {
		fmt.Printf("  Send rate:       %.1f msg/s\n", float64(sent.Load())/elapsed.Seconds())
		fmt.Printf("  Recv rate:       %.1f msg/s\n", float64(received.Load())/elapsed.Seconds())
	}

	if connectFails.Load() > 0 || errors.Load() > 0 {
		log.Fatal("Load test completed with errors")
	}
}

func createSession(ctx context.Context, baseURL, name string) (string, error) {
	body := fmt.Sprintf(`{"client_name":%q}`, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/sessions", strings.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create session: status %d", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}
