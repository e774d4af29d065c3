// Command roomclient is a terminal participant for a translation room.
// It can host a room as the sender, join one as a receiver with local
// playback, or push a file through the upload-and-translate job path.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/guleriaishita/speech-translation/internal/client/channel"
	"github.com/guleriaishita/speech-translation/internal/client/playback"
	"github.com/guleriaishita/speech-translation/internal/client/upload"
	"github.com/guleriaishita/speech-translation/internal/config"
	"github.com/guleriaishita/speech-translation/internal/protocol"
)

func main() {
	mode := flag.String("mode", "join", "send | join | upload")
	server := flag.String("server", "http://localhost:8080", "Relay base URL")
	name := flag.String("name", "guest", "Display name")
	room := flag.String("room", "", "Room code (join mode)")
	lang := flag.String("lang", "en", "Source language (send) or target language (join)")
	target := flag.String("target", "es", "Target language (upload mode)")
	audioFile := flag.String("audio", "", "Audio file to send or upload")
	player := flag.String("player", "", "Local player command (defaults to configuration)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	switch *mode {
	case "send":
		runSender(cfg, *server, *name, *lang, *audioFile)
	case "join":
		runReceiver(cfg, *server, *name, *room, *lang, *player)
	case "upload":
		runUpload(cfg, *server, *audioFile, *lang, *target)
	default:
		log.Fatalf("Unknown mode %q", *mode)
	}
}

func wsURL(server string) string {
	url := strings.Replace(server, "https://", "wss://", 1)
	return strings.Replace(url, "http://", "ws://", 1)
}

func postJSON(url string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// runSender hosts a room and sends one audio clip into it.
func runSender(cfg *config.Configuration, server, name, sourceLang, audioFile string) {
	if audioFile == "" {
		log.Fatal("send mode requires -audio")
	}
	audio, err := os.ReadFile(audioFile)
	if err != nil {
		log.Fatalf("Failed to read audio file: %v", err)
	}

	var created struct {
		RoomCode      string `json:"room_code"`
		ParticipantID string `json:"participant_id"`
	}
	err = postJSON(server+"/api/sessions/create", map[string]string{
		"sender_name":     name,
		"source_language": sourceLang,
	}, &created)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	log.Printf("Room created: %s (share this code)", created.RoomCode)

	ch := channel.New(wsURL(server), cfg.Channel)
	events := make(chan channel.Event, 64)
	ch.OnMessage(func(e channel.Event) { events <- e })
	ch.Connect(context.Background(), created.RoomCode, created.ParticipantID)
	defer ch.Disconnect()

	sent := false
	for e := range events {
		switch e.Kind {
		case channel.EventConnected:
			log.Printf("Socket open, waiting for server handshake")
		case channel.EventFrame:
			switch f := e.Frame.(type) {
			case protocol.Connected:
				if !sent {
					sent = true
					log.Printf("Handshake complete, sending %d audio bytes", len(audio))
					err := ch.Send(protocol.AudioFile{
						AudioData: base64.StdEncoding.EncodeToString(audio),
					})
					if err != nil {
						log.Fatalf("Send failed: %v", err)
					}
				}
			case protocol.ParticipantJoined:
				log.Printf("%s joined as %s", f.ParticipantName, f.Role)
			case protocol.Transcription:
				log.Printf("Transcription: %s", f.Text)
			case protocol.Processing:
				log.Printf("Relay: %s", f.Message)
			case protocol.Info:
				log.Printf("Relay: %s", f.Message)
			case protocol.ErrorFrame:
				log.Printf("Relay error: %s (%s)", f.Error, f.Message)
			}
		case channel.EventError:
			log.Printf("Transport error: %v", e.Err)
		case channel.EventDisconnected:
			log.Printf("Disconnected")
			return
		}
	}
}

// runReceiver joins a room and plays every translated message.
func runReceiver(cfg *config.Configuration, server, name, roomCode, targetLang, player string) {
	if roomCode == "" {
		log.Fatal("join mode requires -room")
	}

	var joined struct {
		RoomCode      string `json:"room_code"`
		ParticipantID string `json:"participant_id"`
		SenderName    string `json:"sender_name"`
	}
	err := postJSON(server+"/api/sessions/join", map[string]string{
		"room_code":       strings.ToUpper(roomCode),
		"name":            name,
		"target_language": targetLang,
	}, &joined)
	if err != nil {
		log.Fatalf("Failed to join room: %v", err)
	}
	log.Printf("Joined %s (host: %s)", joined.RoomCode, joined.SenderName)

	if player == "" {
		player = cfg.Playback.PlayerCommand
	}
	scheduler := playback.NewScheduler(playback.NewExecDevice(player))
	if err := scheduler.Init(); err != nil {
		log.Fatalf("Audio output unavailable: %v", err)
	}
	defer scheduler.Close()

	ch := channel.New(wsURL(server), cfg.Channel)
	events := make(chan channel.Event, 64)
	ch.OnMessage(func(e channel.Event) { events <- e })
	ch.Connect(context.Background(), joined.RoomCode, joined.ParticipantID)
	defer ch.Disconnect()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sig:
			log.Printf("Leaving room")
			return
		case e := <-events:
			switch e.Kind {
			case channel.EventFrame:
				handleReceiverFrame(ch, scheduler, e.Frame)
			case channel.EventBinary:
				if err := scheduler.Enqueue(e.Binary); err != nil {
					log.Printf("Dropped unplayable segment: %v", err)
				}
			case channel.EventError:
				log.Printf("Transport error: %v", e.Err)
			case channel.EventDisconnected:
				log.Printf("Disconnected from room")
				return
			}
		}
	}
}

func handleReceiverFrame(ch *channel.Channel, scheduler *playback.Scheduler, frame protocol.ServerFrame) {
	switch f := frame.(type) {
	case protocol.Connected:
		log.Printf("Connected, requesting history")
		if err := ch.Send(protocol.GetHistory{}); err != nil {
			log.Printf("History request failed: %v", err)
		}
	case protocol.NewMessage:
		log.Printf("%s: %s", f.SenderName, f.Translation)
		if f.Audio == "" {
			return
		}
		audio, err := base64.StdEncoding.DecodeString(f.Audio)
		if err != nil {
			log.Printf("Bad audio payload: %v", err)
			return
		}
		if err := scheduler.Enqueue(audio); err != nil {
			log.Printf("Dropped unplayable segment: %v", err)
		}
	case protocol.HistoryMessage:
		log.Printf("[history] %s: %s", f.SenderName, f.Translation)
	case protocol.ParticipantJoined:
		log.Printf("%s joined as %s", f.ParticipantName, f.Role)
	case protocol.ParticipantLeft:
		log.Printf("%s left", f.ParticipantName)
	case protocol.Processing:
		log.Printf("Relay: %s", f.Message)
	case protocol.Info:
		log.Printf("Relay: %s", f.Message)
	case protocol.ErrorFrame:
		log.Printf("Relay error: %s (%s)", f.Error, f.Message)
	}
}

// runUpload pushes one file through the asynchronous job path and saves
// the translated audio next to the input.
func runUpload(cfg *config.Configuration, server, audioFile, sourceLang, targetLang string) {
	if audioFile == "" {
		log.Fatal("upload mode requires -audio")
	}
	audio, err := os.ReadFile(audioFile)
	if err != nil {
		log.Fatalf("Failed to read audio file: %v", err)
	}

	client := upload.New(server, cfg.Upload, nil)
	ctx := context.Background()

	jobID, err := client.Submit(ctx, audioFile, audio, sourceLang, targetLang)
	if err != nil {
		log.Fatalf("Upload rejected: %v", err)
	}
	log.Printf("Job %s submitted, polling", jobID)

	final, err := client.PollUntilDone(ctx, jobID, 2*time.Second, func(s upload.Status) {
		log.Printf("  %3d%% %s", s.Progress, s.StatusText)
	})
	if err != nil {
		log.Fatalf("Polling failed: %v", err)
	}
	if final.Error != "" {
		log.Fatalf("Job failed: %s", final.Error)
	}

	log.Printf("Transcription: %s", final.Transcription)
	log.Printf("Translation:   %s", final.Translation)

	out, err := client.Download(ctx, final.ResultID)
	if err != nil {
		log.Fatalf("Download failed: %v", err)
	}
	outPath := audioFile + ".translated.wav"
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		log.Fatalf("Failed to write output: %v", err)
	}
	log.Printf("Saved translated audio to %s", outPath)
}
