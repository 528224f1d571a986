package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"skillsd/internal/bus"
	"skillsd/internal/config"
	"skillsd/internal/gps"
	"skillsd/internal/homeassistant"
	"skillsd/internal/nostr"
	"skillsd/internal/radar"
	"skillsd/internal/skill"
	"skillsd/internal/speech"
	"skillsd/internal/stream"
	"skillsd/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("skillsd starting")

	broker, err := bus.New(bus.Config{
		Broker:         cfg.Bus.Broker,
		ClientID:       cfg.Bus.ClientID,
		ConnectTimeout: cfg.Bus.ConnectTimeout,
	})
	if err != nil {
		log.Fatalf("bus init failed: %v", err)
	}
	if err := broker.Connect(); err != nil {
		log.Fatalf("bus connect failed: %v", err)
	}
	defer broker.Close()
	log.Printf("bus connected broker=%s", cfg.Bus.Broker)

	registry := skill.NewRegistry()
	status := web.NewStatus()
	status.Register("bus", func() any { return broker.Snapshot() })

	// GPS
	var gpsSvc *gps.Service
	if cfg.GPS.Enable {
		gpsSvc = gps.New(gps.Config{
			Addr:        cfg.GPS.Addr,
			DialTimeout: cfg.GPS.DialTimeout,
			MaxRetries:  cfg.GPS.MaxRetries,
		})
		defer gpsSvc.Close()
		status.Register("gps", func() any { return gpsSvc.Snapshot() })

		if err := gpsSvc.Start(ctx); err != nil {
			log.Printf("gps start failed: %v", err)
		} else {
			forwardStream(broker, bus.TopicGPSLocation, gpsSvc.Locations())
			forwardStream(broker, bus.TopicGPSVelocity, gpsSvc.Velocities())
			forwardStream(broker, bus.TopicGPSQuality, gpsSvc.Qualities())
		}

		err := registry.Register(skill.Skill{
			Name:        "get_gps_info",
			Description: "Get the robot's current GPS position, speed, heading and fix quality.",
			Run: func(context.Context, map[string]string) (string, error) {
				return gpsSvc.Summary(), nil
			},
		})
		if err != nil {
			log.Fatalf("gps skill registration failed: %v", err)
		}
	}

	// Home Assistant
	if cfg.Home.Enable {
		home, err := homeassistant.New(homeassistant.Config{
			BaseURL: cfg.Home.BaseURL,
			Token:   cfg.Home.Token,
			Timeout: cfg.Home.RequestTimeout,
		})
		if err != nil {
			log.Fatalf("home assistant init failed: %v", err)
		}
		if err := home.RegisterSkills(registry); err != nil {
			log.Fatalf("home assistant skill registration failed: %v", err)
		}
		status.Register("home_assistant", func() any { return home.Snapshot() })
		log.Printf("home assistant enabled base_url=%s", cfg.Home.BaseURL)
	}

	// TTS
	var tts *speech.TTS
	if cfg.TTS.Enable {
		tts, err = speech.NewTTS(speech.TTSConfig{
			Command: cfg.TTS.Command,
			Args:    cfg.TTS.Args,
		})
		if err != nil {
			log.Fatalf("tts init failed: %v", err)
		}
		if err := tts.Start(ctx); err != nil {
			log.Fatalf("tts start failed: %v", err)
		}
		defer tts.Close()
		if err := tts.RegisterSkills(registry); err != nil {
			log.Fatalf("tts skill registration failed: %v", err)
		}
		status.Register("tts", func() any { return tts.Snapshot() })

		err = broker.Subscribe(bus.TopicSay, func(_ string, payload []byte) {
			if err := tts.Say(string(payload)); err != nil {
				log.Printf("say from bus failed: %v", err)
			}
		})
		if err != nil {
			log.Fatalf("bus subscribe failed: %v", err)
		}
	}

	// STT
	if cfg.STT.Enable {
		stt, err := speech.NewSTT(speech.STTConfig{
			Command: cfg.STT.Command,
			Args:    cfg.STT.Args,
			OnTranscript: func(text string) {
				if err := broker.Publish(bus.TopicHumanInput, []byte(text)); err != nil {
					log.Printf("transcript publish failed: %v", err)
				}
			},
		})
		if err != nil {
			log.Fatalf("stt init failed: %v", err)
		}
		if err := stt.Start(ctx); err != nil {
			log.Fatalf("stt start failed: %v", err)
		}
		defer stt.Close()
		status.Register("stt", func() any { return stt.Snapshot() })
	}

	// Chat
	if cfg.Chat.Enable {
		chat, err := nostr.New(nostr.Config{
			Relays:         cfg.Chat.Relays,
			AgentKey:       cfg.Chat.AgentKey,
			OperatorPubkey: cfg.Chat.OperatorPubKey,
			Lookback:       cfg.Chat.Lookback,
			UploadURL:      cfg.Chat.ImageUploadURL,
			OnMessage: func(text string) {
				if err := broker.Publish(bus.TopicHumanInput, []byte(text)); err != nil {
					log.Printf("chat message publish failed: %v", err)
				}
			},
		})
		if err != nil {
			log.Fatalf("chat init failed: %v", err)
		}
		if err := chat.Start(ctx); err != nil {
			log.Fatalf("chat start failed: %v", err)
		}
		defer chat.Close()
		status.Register("chat", func() any { return chat.Snapshot() })

		camera := &imageCache{}
		err = broker.Subscribe(bus.TopicCameraImage, func(_ string, payload []byte) {
			camera.set(payload)
		})
		if err != nil {
			log.Fatalf("bus subscribe failed: %v", err)
		}
		if err := chat.RegisterSkills(registry, camera.get); err != nil {
			log.Fatalf("chat skill registration failed: %v", err)
		}
		log.Printf("chat enabled agent=%s relays=%d", chat.AgentPubkey()[:16], len(cfg.Chat.Relays))
	}

	// Radar
	if cfg.Radar.Enable {
		radarSvc, err := radar.New(radar.Config{
			Addr:         cfg.Radar.Addr,
			DialTimeout:  cfg.Radar.DialTimeout,
			InfoInterval: cfg.Radar.InfoInterval,
		})
		if err != nil {
			log.Fatalf("radar init failed: %v", err)
		}
		if err := radarSvc.Start(ctx); err != nil {
			log.Fatalf("radar start failed: %v", err)
		}
		defer radarSvc.Close()
		status.Register("radar", func() any { return radarSvc.Snapshot() })
		forwardStream(broker, bus.TopicRadarPoints, radarSvc.Frames())
		forwardStream(broker, bus.TopicRadarInfo, radarSvc.Infos())
	}

	// Web
	if cfg.Web.Enable {
		var sayer web.Sayer
		if tts != nil {
			sayer = tts
		}
		server, err := web.NewServer(cfg.Web.Listen, web.Handler(status, registry, sayer, web.NewLiveGPS(gpsSvc)))
		if err != nil {
			log.Fatalf("web init failed: %v", err)
		}
		if err := server.Start(); err != nil {
			log.Fatalf("web start failed: %v", err)
		}
		defer server.Close()
	}

	for _, s := range registry.List() {
		log.Printf("skill registered name=%s", s.Name)
	}

	<-ctx.Done()
	log.Printf("skillsd stopping")
}

// forwardStream republishes every stream value as JSON on a bus topic.
func forwardStream[T any](broker *bus.Bus, topic string, src *stream.Stream[T]) {
	sub := src.Subscribe(16)
	go func() {
		defer sub.Cancel()
		for v := range sub.C {
			if err := broker.PublishJSON(topic, v); err != nil {
				log.Printf("bus forward failed topic=%s: %v", topic, err)
			}
		}
	}()
}

// imageCache holds the newest camera frame from the bus.
type imageCache struct {
	mu   sync.Mutex
	jpeg []byte
}

func (c *imageCache) set(data []byte) {
	cp := append([]byte(nil), data...)
	c.mu.Lock()
	c.jpeg = cp
	c.mu.Unlock()
}

func (c *imageCache) get() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.jpeg) == 0 {
		return nil, false
	}
	return c.jpeg, true
}
