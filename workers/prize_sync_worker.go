package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"geohunt-claim-system/models"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PrizeSyncClient pulls freshly distributed prizes from the external
// distribution service. Prize creation lives there; this service only mirrors
// the drops so the claim pipeline can act on them.
type PrizeSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewPrizeSyncClient(db *gorm.DB) *PrizeSyncClient {
	baseURL := os.Getenv("DISTRIBUTION_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("DISTRIBUTION_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("HUNT_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("HUNT_SERVICE_TOKEN environment variable is required for prize sync")
	}

	return &PrizeSyncClient{
		BaseURL: baseURL,
		Token:   token,
		DB:      db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *PrizeSyncClient) GetNewPrizes(ctx context.Context, since time.Time) ([]models.Prize, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/prizes", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call distribution service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("distribution service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Prizes []models.Prize `json:"prizes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode distribution service response: %w", err)
	}

	return response.Prizes, nil
}

// PollPrizes mirrors new prize drops into the local table.
func PollPrizes(ctx context.Context, client *PrizeSyncClient, pollInterval time.Duration) {
	log.Println("Starting prize distribution polling...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)
	titleCaser := cases.Title(language.Und)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Prize polling stopped.")
			return
		case <-ticker.C:
			tickTime := time.Now().UTC()

			prizes, err := client.GetNewPrizes(ctx, lastSyncTime)
			if err != nil {
				log.Printf("❌ Error polling prizes: %v", err)
				continue
			}

			count := len(prizes)
			if count == 0 {
				continue
			}
			log.Printf("📥 Received %d prize drop(s) from distribution service.", count)

			for i := range prizes {
				prizes[i].City = titleCaser.String(prizes[i].City)
				prizes[i].CitySlug = slug.Make(prizes[i].City)
			}

			// Upsert on ID; claim-owned columns (status, claimed_by,
			// claimed_at, version) are deliberately excluded so a re-sent drop
			// can never resurrect a claimed prize.
			if err := client.DB.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{{Name: "id"}},
					DoUpdates: clause.AssignmentColumns([]string{
						"name",
						"lat",
						"lng",
						"points",
						"category",
						"city",
						"city_slug",
						"expires_at",
						"updated_at",
					}),
				},
			).Create(&prizes).Error; err != nil {
				log.Printf("❌ Failed to upsert %d prize(s): %v", count, err)
				// Do NOT advance lastSyncTime on failure — retry same window next tick
				continue
			}

			lastSyncTime = tickTime
			log.Printf("✅ Upserted %d prize(s).", count)
		}
	}
}
