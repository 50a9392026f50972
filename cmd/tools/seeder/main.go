package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/noah-isme/kopi-pos/internal/auth"
	"github.com/noah-isme/kopi-pos/internal/common"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	seedBranches(db)
	seedVouchers(db)
	printDemoTokens()

	log.Println("Seeding completed successfully!")
}

var branches = []struct {
	ID      string
	Name    string
	Address string
}{
	{"jkt-senopati", "Kopi Senopati", "Jl. Senopati No. 12, Jakarta Selatan"},
	{"jkt-kemang", "Kopi Kemang", "Jl. Kemang Raya No. 8, Jakarta Selatan"},
	{"bdg-dago", "Kopi Dago", "Jl. Ir. H. Juanda No. 101, Bandung"},
}

func seedBranches(db *sql.DB) {
	fmt.Println("Seeding Branches...")
	for _, b := range branches {
		_, err := db.Exec(`
			INSERT INTO branches (id, name, address)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, address = EXCLUDED.address;
		`, b.ID, b.Name, b.Address)
		if err != nil {
			log.Printf("Failed to upsert branch %s: %v", b.ID, err)
		}
	}
}

func seedVouchers(db *sql.DB) {
	now := time.Now()
	vouchers := []struct {
		Code           string
		Description    string
		Type           string
		Value          int64
		MinPurchase    int64
		MaxDiscount    sql.NullInt64
		UsageLimit     sql.NullInt32
		PerUserLimit   sql.NullInt32
		Categories     []string
		Branches       []string
		HappyHourStart sql.NullString
		HappyHourEnd   sql.NullString
		BuyQty         int
		GetQty         int
	}{
		{Code: "DISCOUNT20", Description: "20% off, capped at Rp25.000", Type: "PERCENTAGE", Value: 20, MinPurchase: 30000,
			MaxDiscount: sql.NullInt64{Int64: 25000, Valid: true}, UsageLimit: sql.NullInt32{Int32: 500, Valid: true},
			PerUserLimit: sql.NullInt32{Int32: 2, Valid: true}},
		{Code: "HEMAT10K", Description: "Rp10.000 off orders above Rp50.000", Type: "FIXED_AMOUNT", Value: 10000, MinPurchase: 50000},
		{Code: "HAPPYHOUR", Description: "15% off coffee between 14:00 and 17:00", Type: "PERCENTAGE", Value: 15,
			Categories:     []string{"coffee"},
			HappyHourStart: sql.NullString{String: "14:00", Valid: true}, HappyHourEnd: sql.NullString{String: "17:00", Valid: true}},
		{Code: "FREEPASTRY", Description: "Cheapest pastry free", Type: "FREE_ITEM", Value: 0, MinPurchase: 40000,
			Categories: []string{"pastry"}},
		{Code: "B2G1KEMANG", Description: "Buy 2 get 1 at Kemang", Type: "BUY_X_GET_Y", BuyQty: 2, GetQty: 1,
			Branches: []string{"jkt-kemang"}},
	}

	fmt.Println("Seeding Vouchers...")
	for _, v := range vouchers {
		_, err := db.Exec(`
			INSERT INTO vouchers (code, description, type, value, min_purchase, max_discount, usage_limit, per_user_limit,
				valid_from, valid_until, applicable_categories, applicable_branches, happy_hour_start, happy_hour_end,
				buy_quantity, get_quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (code) DO NOTHING;
		`, v.Code, v.Description, v.Type, v.Value, v.MinPurchase, v.MaxDiscount, v.UsageLimit, v.PerUserLimit,
			now.AddDate(0, 0, -1), now.AddDate(0, 3, 0), textArray(v.Categories), textArray(v.Branches),
			v.HappyHourStart, v.HappyHourEnd, v.BuyQty, v.GetQty)
		if err != nil {
			log.Printf("Failed to seed voucher %s: %v", v.Code, err)
		}
	}
}

// textArray renders a Postgres array literal; nil stays NULL.
func textArray(values []string) any {
	if len(values) == 0 {
		return nil
	}
	return "{" + strings.Join(values, ",") + "}"
}

func printDemoTokens() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Println("JWT_SECRET not set, skipping demo tokens")
		return
	}
	verifier, err := auth.NewVerifier(auth.Config{
		Secret:   secret,
		Issuer:   os.Getenv("JWT_ISSUER"),
		Audience: os.Getenv("JWT_AUDIENCE"),
	})
	if err != nil {
		log.Printf("Failed to build token issuer: %v", err)
		return
	}
	staff := []common.Principal{
		{UserID: "admin-1", Role: common.RoleAdmin},
		{UserID: "cashier-senopati", Role: common.RoleCashier, BranchID: "jkt-senopati"},
		{UserID: "barista-kemang", Role: common.RoleBarista, BranchID: "jkt-kemang"},
	}
	fmt.Println("Demo staff tokens (valid 12h):")
	for _, p := range staff {
		token, _, err := verifier.Issue(p, 12*time.Hour)
		if err != nil {
			log.Printf("Failed to issue token for %s: %v", p.UserID, err)
			continue
		}
		fmt.Printf("  %-18s %s\n", p.UserID, token)
	}
}
