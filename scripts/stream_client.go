// Command stream_client starts a small sweep and prints its run records as
// they arrive over the WebSocket stream.
//
//	go run scripts/stream_client.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type         string          `json:"type"`
	ExperimentID string          `json:"experimentId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	body := []byte(`{"problems":["TSP Cities","VRP GlobalSpan"],"firstSolutionStrategies":["PATH_CHEAPEST_ARC","SAVINGS"],"localSearchStrategies":["None"]}`)
	resp, err := http.Post(base+"/v1/experiments", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		log.Fatalf("start experiment: %s", resp.Status)
	}
	var started struct {
		ExperimentID string `json:"experimentId"`
		Total        int    `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		log.Fatal(err)
	}
	log.Printf("Experiment %s: %d runs", started.ExperimentID, started.Total)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "subscribe", ExperimentID: started.ExperimentID}); err != nil {
		log.Fatal(err)
	}
	for {
		var m wsMessage
		if err := c.ReadJSON(&m); err != nil {
			log.Printf("read: %v", err)
			return
		}
		switch m.Type {
		case "run.completed":
			var rec struct {
				Seq           int    `json:"seq"`
				Problem       string `json:"problem"`
				FirstSolution string `json:"firstSolutionStrategy"`
				Status        string `json:"status"`
				ElapsedMs     int64  `json:"elapsedMs"`
			}
			_ = json.Unmarshal(m.Payload, &rec)
			log.Printf("WS <- run %d %s/%s: %s in %d ms", rec.Seq, rec.Problem, rec.FirstSolution, rec.Status, rec.ElapsedMs)
		case "complete":
			log.Printf("WS <- complete")
			return
		default:
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}
}
