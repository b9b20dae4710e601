// Command seed inserts a property, two rooms and a draft booking so the
// payment and approval flow can be exercised against a local database.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run ./scripts/seed
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fmt.Println("Error: DATABASE_URL environment variable not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		fmt.Printf("Error: connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close(ctx)

	propertyID, roomTypeID, bookingID := uuid.New(), uuid.New(), uuid.New()
	checkIn := time.Now().UTC().AddDate(0, 0, 7)

	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO properties (id, name, timezone, currency) VALUES ($1, $2, $3, $4)`,
		propertyID, "Seaside Local", "Europe/Lisbon", "EUR")
	for i, number := range []string{"101", "102"} {
		batch.Queue(`INSERT INTO rooms (id, property_id, room_type_id, number, floor) VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), propertyID, roomTypeID, number, 1+i/2)
	}
	batch.Queue(`
		INSERT INTO bookings (id, reference, property_id, room_type_id, guest_name, guest_email,
			check_in, check_out, adults, total_cents, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 2, 42000, 'EUR', 'DRAFT')`,
		bookingID, "SEED-"+bookingID.String()[:8], propertyID, roomTypeID, "Ana Seed", "ana@example.com",
		checkIn.Format("2006-01-02"), checkIn.AddDate(0, 0, 3).Format("2006-01-02"))

	tx, err := conn.Begin(ctx)
	if err != nil {
		fmt.Printf("Error: begin: %v\n", err)
		os.Exit(1)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		_ = tx.Rollback(ctx)
		fmt.Printf("Error: seed: %v\n", err)
		os.Exit(1)
	}
	if err := tx.Commit(ctx); err != nil {
		fmt.Printf("Error: commit: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("PROPERTY_ID=%s\n", propertyID)
	fmt.Printf("BOOKING_ID=%s\n", bookingID)
}
