// The scheduler starts the API's auto loop on a cron schedule and
// winds it down after a configured window. Run a single instance; the
// API itself rejects overlapping loops.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"server/internal/infra"
)

type loopRequest struct {
	Instruction string   `json:"instruction"`
	References  []string `json:"references"`
	AspectRatio string   `json:"aspect_ratio"`
	BrandStyle  string   `json:"brand_style"`
	Quantity    int      `json:"quantity"`
}

func main() {
	_ = godotenv.Load()

	appEnv := envOr("APP_ENV", "development")
	logger := infra.NewLogger(appEnv, "engine-scheduler")

	baseURL := strings.TrimRight(envOr("API_BASE_URL", "http://localhost:8080"), "/")
	schedule := envOr("LOOP_SCHEDULE", "0 9 * * *")
	window := envDuration("LOOP_WINDOW_MINUTES", 30*time.Minute)

	req := loopRequest{
		Instruction: os.Getenv("LOOP_INSTRUCTION"),
		References:  splitList(os.Getenv("LOOP_REFERENCES")),
		AspectRatio: envOr("LOOP_ASPECT_RATIO", "9:16"),
		BrandStyle:  os.Getenv("LOOP_BRAND_STYLE"),
		Quantity:    envInt("LOOP_QUANTITY", 1),
	}
	if len(req.References) == 0 {
		logger.Fatal().Msg("LOOP_REFERENCES is required")
	}

	client := &http.Client{Timeout: 30 * time.Second}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := startLoop(client, baseURL, req); err != nil {
			logger.Error().Err(err).Msg("start auto loop")
			return
		}
		logger.Info().Str("schedule", schedule).Dur("window", window).Msg("auto loop started")

		time.AfterFunc(window, func() {
			if err := stopLoop(client, baseURL); err != nil {
				logger.Error().Err(err).Msg("stop auto loop")
				return
			}
			logger.Info().Msg("auto loop window closed")
		})
	})
	if err != nil {
		logger.Fatal().Err(err).Str("schedule", schedule).Msg("invalid cron schedule")
	}

	c.Start()
	defer c.Stop()
	logger.Info().Str("schedule", schedule).Str("api", baseURL).Msg("scheduler running")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("scheduler stopped")
}

func startLoop(client *http.Client, baseURL string, req loopRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	resp, err := client.Post(baseURL+"/v1/autoloop/start", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// An already-running loop is fine: the window simply extends it.
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func stopLoop(client *http.Client, baseURL string) error {
	resp, err := client.Post(baseURL+"/v1/autoloop/stop", "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			return time.Duration(minutes) * time.Minute
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
