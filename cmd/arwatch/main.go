// Command arwatch drives and tails a running arx dashboard from the terminal.
//
//	arwatch -grant          answer the camera prompt
//	arwatch -hide           background the surface
//	arwatch -feed logs      tail the log feed
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-arx/internal/httpc"
)

type statusEvent struct {
	Type   string `json:"type"`
	Status *struct {
		Phase      string `json:"phase"`
		Visible    bool   `json:"visible"`
		Permission string `json:"permission"`
		Device     string `json:"device"`
		Format     string `json:"format"`
		Session    struct {
			State     string `json:"state"`
			SessionID string `json:"session_id"`
		} `json:"session"`
		Frames struct {
			Pushed   uint64 `json:"pushed"`
			Rejected uint64 `json:"rejected"`
		} `json:"frames"`
		Redraws   uint64 `json:"redraws"`
		LastError string `json:"last_error"`
	} `json:"status"`
}

func main() {
	addr := flag.String("addr", "localhost:8181", "Dashboard host:port")
	grant := flag.Bool("grant", false, "Grant the pending camera prompt")
	deny := flag.Bool("deny", false, "Deny the pending camera prompt")
	show := flag.Bool("show", false, "Make the surface visible")
	hide := flag.Bool("hide", false, "Background the surface")
	layout := flag.Bool("layout", false, "Report a layout change")
	feed := flag.String("feed", "status", "Feed to tail: status, scene or logs")
	watch := flag.Bool("watch", false, "Keep tailing after running actions")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base := "http://" + *addr + "/api"
	actions := 0
	act := func(what, path string, body any) {
		actions++
		if err := httpc.SendJSON(ctx, http.MethodPost, base+path, body, nil); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %s: %v\n", what, err)
			os.Exit(1)
		}
		fmt.Printf("✅ %s\n", what)
	}

	switch {
	case *grant:
		act("granted camera access", "/permission", map[string]bool{"granted": true})
	case *deny:
		act("denied camera access", "/permission", map[string]bool{"granted": false})
	}
	switch {
	case *show:
		act("surface visible", "/visibility", map[string]bool{"visible": true})
	case *hide:
		act("surface hidden", "/visibility", map[string]bool{"visible": false})
	}
	if *layout {
		act("layout changed", "/layout", nil)
	}
	if actions > 0 && !*watch {
		return
	}

	if err := tail(ctx, *addr, *feed); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func tail(ctx context.Context, addr, feed string) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws/" + feed}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", u.String(), err)
	}
	defer conn.Close()
	fmt.Printf("📡 Tailing %s (Ctrl+C to stop)\n", u.String())

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if feed == "status" {
			printStatus(data)
		} else {
			fmt.Println(string(data))
		}
	}
}

func printStatus(data []byte) {
	var ev statusEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		fmt.Println(string(data))
		return
	}

	switch {
	case ev.Type == "permission_prompt":
		fmt.Println("🔐 camera permission requested (arwatch -grant / -deny)")
	case ev.Status != nil:
		st := ev.Status
		line := fmt.Sprintf("%-20s session=%-20s permission=%-18s frames=%d/%d redraws=%d",
			st.Phase, st.Session.State, st.Permission, st.Frames.Pushed, st.Frames.Rejected, st.Redraws)
		if st.LastError != "" {
			line += " error=" + st.LastError
		}
		fmt.Println(line)
	default:
		fmt.Println(string(data))
	}
}
