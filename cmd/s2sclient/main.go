// Command s2sclient is a manual microphone-in/speaker-out test client for
// the s2sengine WebSocket endpoint. It captures mono 16 kHz PCM via malgo,
// streams ClientMessage envelopes over a websocket.Conn, and plays back
// any tts_chunk audio it receives.
//
// The device-setup and capture-callback shape (malgo.DefaultDeviceConfig,
// a shared playback ring buffer guarded by a mutex, an RMS level meter
// printed to the terminal) is carried over from the teacher's
// cmd/agent/main.go, re-homed from a local STT/LLM/TTS loop onto a remote
// WebSocket connection.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/lingua-s2s/s2s-engine/pkg/transport"
)

const (
	sampleRate = 16000
	channels   = 1
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	serverURL := flag.String("server", "ws://localhost:8080/ws", "s2sengine websocket URL")
	srcLang := flag.String("src", "en", "source language")
	tgtLang := flag.String("tgt", "zh", "target language")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *serverURL, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", *serverURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "closing")

	cfgMsg, _ := json.Marshal(transport.ClientMessage{Type: "config", SrcLang: *srcLang, TgtLang: *tgtLang})
	if err := conn.Write(ctx, websocket.MessageText, cfgMsg); err != nil {
		log.Fatalf("send config: %v", err)
	}

	var playbackMu sync.Mutex
	var playbackBytes []byte

	go receiveLoop(ctx, conn, &playbackMu, &playbackBytes)

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	var rmsMu sync.Mutex
	lastRMS := 0.0
	var tsMu sync.Mutex
	timestampMs := uint64(0)

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			var sum float64
			for i := 0; i < len(pInput)-1; i += 2 {
				sample := int16(pInput[i]) | (int16(pInput[i+1]) << 8)
				f := float64(sample) / 32768.0
				sum += f * f
			}
			rms := math.Sqrt(sum / float64(len(pInput)/2))
			rmsMu.Lock()
			lastRMS = rms
			rmsMu.Unlock()

			tsMu.Lock()
			timestampMs += uint64(len(pInput)) * 1000 / 2 / sampleRate
			ts := timestampMs
			tsMu.Unlock()

			frameMsg, _ := json.Marshal(transport.ClientMessage{
				Type:        "audio_frame",
				Data:        base64.StdEncoding.EncodeToString(pInput),
				TimestampMs: ts,
				SampleRate:  sampleRate,
				Channels:    channels,
			})
			_ = conn.Write(ctx, websocket.MessageText, frameMsg)
		}

		if pOutput != nil {
			playbackMu.Lock()
			n := copy(pOutput, playbackBytes)
			playbackBytes = playbackBytes[n:]
			if n < len(pOutput) {
				for i := n; i < len(pOutput); i++ {
					pOutput[i] = 0
				}
			}
			playbackMu.Unlock()
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = channels
	deviceConfig.SampleRate = sampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		log.Fatal(err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	go func() {
		for {
			rmsMu.Lock()
			level := lastRMS
			rmsMu.Unlock()

			meter := ""
			dots := int(level * 500)
			if dots > 40 {
				dots = 40
			}
			for i := 0; i < dots; i++ {
				meter += "|"
			}
			fmt.Printf("\r[MIC ENERGY: %-40s] RMS: %.5f", meter, level)
			time.Sleep(100 * time.Millisecond)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nshutting down")
}

func receiveLoop(ctx context.Context, conn *websocket.Conn, playbackMu *sync.Mutex, playbackBytes *[]byte) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg transport.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "tts_chunk" || msg.Audio == "" {
			continue
		}
		wav, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			continue
		}
		pcm, _, _, err := transport.ParseWAV(wav)
		if err != nil {
			continue
		}
		playbackMu.Lock()
		*playbackBytes = append(*playbackBytes, pcm...)
		playbackMu.Unlock()
	}
}
