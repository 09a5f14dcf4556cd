package database

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/sahilchouksey/askable/services/chatstore"
)

// SampleDataset is a small inline dataset used for demo chats.
type SampleDataset struct {
	Question string
	Headers  []string
	Rows     []map[string]string
}

// SampleDatasets are the demo chats created by the seeder.
var SampleDatasets = []SampleDataset{
	{
		Question: "Which brand has the most stock?",
		Headers:  []string{"Brand", "Product", "Stock", "Price"},
		Rows: []map[string]string{
			{"Brand": "Acme", "Product": "Anvil", "Stock": "12", "Price": "99.90"},
			{"Brand": "Globex", "Product": "Widget", "Stock": "40", "Price": "4.50"},
			{"Brand": "Acme", "Product": "Rocket", "Stock": "3", "Price": "450.00"},
			{"Brand": "Initech", "Product": "Stapler", "Stock": "25", "Price": "12.00"},
		},
	},
	{
		Question: "Plot monthly revenue by region",
		Headers:  []string{"Month", "Region", "Revenue"},
		Rows: []map[string]string{
			{"Month": "2025-01", "Region": "North", "Revenue": "18200"},
			{"Month": "2025-01", "Region": "South", "Revenue": "9400"},
			{"Month": "2025-02", "Region": "North", "Revenue": "20100"},
			{"Month": "2025-02", "Region": "South", "Revenue": "11850"},
		},
	},
}

// Seeder handles database seeding operations
type Seeder struct {
	store *chatstore.Store
}

// NewSeeder creates a new seeder instance
func NewSeeder(store *chatstore.Store) *Seeder {
	return &Seeder{store: store}
}

// SeedChats creates one demo chat per sample dataset and returns their ids.
func (s *Seeder) SeedChats(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(SampleDatasets))
	for _, ds := range SampleDatasets {
		id := s.store.Create(ctx, chatstore.CreateParams{
			UserQuestion: ds.Question,
			CSVHeaders:   ds.Headers,
			CSVRows:      ds.Rows,
		})

		// Create never fails; a record that cannot be read back was not saved.
		if _, err := s.store.Load(ctx, id); err != nil {
			return ids, fmt.Errorf("failed to seed chat %q: %w", ds.Question, err)
		}
		log.Infow("seeded demo chat", "chat_id", id, "question", ds.Question)
		ids = append(ids, id)
	}
	return ids, nil
}

// RunSeeds seeds the demo chats into the given backend.
func RunSeeds(ctx context.Context, backend chatstore.Backend) ([]string, error) {
	return NewSeeder(chatstore.New(backend, nil)).SeedChats(ctx)
}

