package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

// Demo dataset sizing. Purchases scale with events the way the demo data
// always has: roughly a quarter of the event volume, floor of 150.
const (
	DefaultNumUsers  = 100
	DefaultNumEvents = 1500
	demoSeed         = 42
)

var (
	eventTypes     = []string{"page_view", "product_click", "add_to_cart", "checkout_start", "purchase", "support_click"}
	pages          = []string{"home", "product", "reviews", "cart", "checkout", "support", "blog", "about"}
	currencies     = []string{"USD", "EUR", "GBP", "CAD"}
	paymentMethods = []string{"card", "paypal", "apple_pay", "google_pay"}
	products       = []string{
		"Pod Cover", "Cooling Mattress", "Smart Pillow", "Bed Frame",
		"Sheet Set", "Duvet", "Protector", "Travel Case",
	}
)

// Generate writes seeded demo JSON files for users, events and purchases into
// dir. Existing files are left untouched so a dataset survives restarts.
func Generate(dir string, numUsers, numEvents int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if numUsers <= 0 {
		numUsers = DefaultNumUsers
	}
	if numEvents <= 0 {
		numEvents = DefaultNumEvents
	}

	f := gofakeit.New(demoSeed)
	now := time.Now().UTC()

	usersPath := filepath.Join(dir, "users.json")
	users, err := loadOrGenerate(usersPath, func() []Row {
		rows := make([]Row, 0, numUsers)
		for i := 0; i < numUsers; i++ {
			rows = append(rows, Row{
				"id":          uuid.New().String(),
				"email":       fmt.Sprintf("%d.%s", i, f.Email()),
				"name":        f.Name(),
				"age":         float64(f.IntRange(18, 80)),
				"location":    fmt.Sprintf("%s, %s", f.City(), f.Country()),
				"signup_date": now.AddDate(0, 0, -f.IntRange(0, 365)).Format(time.RFC3339),
			})
		}
		return rows
	})
	if err != nil {
		return err
	}

	userIDs := make([]string, 0, len(users))
	for _, u := range users {
		if id, ok := u["id"].(string); ok {
			userIDs = append(userIDs, id)
		}
	}

	eventsPath := filepath.Join(dir, "events.json")
	if _, err := loadOrGenerate(eventsPath, func() []Row {
		rows := make([]Row, 0, numEvents)
		for i := 0; i < numEvents; i++ {
			rows = append(rows, Row{
				"id":                   uuid.New().String(),
				"user_id":              f.RandomString(userIDs),
				"event_type":           f.RandomString(eventTypes),
				"page":                 f.RandomString(pages),
				"session_duration_sec": float64(f.IntRange(5, 120) + f.IntRange(0, 30)),
				"clicks":               float64(f.IntRange(0, 20)),
				"timestamp":            randomPastTimestamp(f, now),
			})
		}
		return rows
	}); err != nil {
		return err
	}

	purchasesPath := filepath.Join(dir, "purchases.json")
	numPurchases := numEvents / 4
	if numPurchases < 150 {
		numPurchases = 150
	}
	if _, err := loadOrGenerate(purchasesPath, func() []Row {
		rows := make([]Row, 0, numPurchases)
		for i := 0; i < numPurchases; i++ {
			itemsCount := f.IntRange(1, 3)
			unitPrice := f.IntRange(50, 400)
			rows = append(rows, Row{
				"id":             uuid.New().String(),
				"user_id":        f.RandomString(userIDs),
				"items_count":    float64(itemsCount),
				"total_amount":   float64(unitPrice * itemsCount),
				"currency":       f.RandomString(currencies),
				"product":        f.RandomString(products),
				"payment_method": f.RandomString(paymentMethods),
				"purchased_at":   randomPastTimestamp(f, now),
			})
		}
		return rows
	}); err != nil {
		return err
	}

	return nil
}

func randomPastTimestamp(f *gofakeit.Faker, now time.Time) string {
	t := now.AddDate(0, 0, -f.IntRange(0, 60)).Add(-time.Duration(f.IntRange(0, 1440)) * time.Minute)
	return t.Format(time.RFC3339)
}

// loadOrGenerate returns rows from path if the file exists, otherwise runs
// gen and writes the result.
func loadOrGenerate(path string, gen func() []Row) ([]Row, error) {
	if data, err := os.ReadFile(path); err == nil {
		var rows []Row
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", path, err)
		}
		return rows, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	rows := gen()
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("rename %s: %w", path, err)
	}
	return rows, nil
}
