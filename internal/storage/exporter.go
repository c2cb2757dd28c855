package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

// Exporter drains finished auto-loop batches into a FileStore. Writes
// are staggered so a burst of large artifacts does not saturate disk
// or the upstream CDN at once. Failures are logged and skipped; the
// loop that handed over the batch is never blocked or failed by an
// export problem.
type Exporter struct {
	store   *FileStore
	client  *http.Client
	stagger time.Duration
	logger  zerolog.Logger
}

func NewExporter(store *FileStore, client *http.Client, stagger time.Duration, logger zerolog.Logger) *Exporter {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if stagger <= 0 {
		stagger = 800 * time.Millisecond
	}
	return &Exporter{store: store, client: client, stagger: stagger, logger: logger}
}

// ExportBatch writes every artifact of one cycle under exports/.
func (e *Exporter) ExportBatch(ctx context.Context, cycle int, artifacts []*domain.Artifact) {
	stamp := time.Now().UnixMilli()
	for i, art := range artifacts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.stagger):
			}
		}
		key := fmt.Sprintf("exports/autoloop_%d_%02d.%s", stamp, i+1, extensionFor(art.Format))
		if err := e.exportOne(ctx, key, art); err != nil {
			e.logger.Warn().Err(err).Int("cycle", cycle).Str("key", key).Msg("artifact export failed")
			continue
		}
		e.logger.Info().Int("cycle", cycle).Str("key", key).Msg("artifact exported")
	}
}

func (e *Exporter) exportOne(ctx context.Context, key string, art *domain.Artifact) error {
	data, err := e.payload(ctx, art)
	if err != nil {
		return err
	}
	_, err = e.store.Write(ctx, key, data)
	return err
}

// payload prefers inline bytes, then a data URI, then a fetch of the
// artifact URL.
func (e *Exporter) payload(ctx context.Context, art *domain.Artifact) ([]byte, error) {
	if len(art.Data) > 0 {
		return art.Data, nil
	}
	if strings.HasPrefix(art.URL, "data:") {
		idx := strings.Index(art.URL, ",")
		if idx < 0 {
			return nil, fmt.Errorf("storage: malformed data URI")
		}
		return base64.StdEncoding.DecodeString(art.URL[idx+1:])
	}
	if art.URL == "" {
		return nil, fmt.Errorf("storage: artifact has no payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, art.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: build fetch request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: fetch artifact: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
