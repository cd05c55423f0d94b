package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"clinic-backend/internal/collab"
	"clinic-backend/internal/model"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Database connection
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_SSLMODE"),
		os.Getenv("DB_TIMEZONE"),
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	fmt.Println("✅ Connected to database")
	fmt.Println()

	// Check tables
	migrator := db.Migrator()
	for _, table := range []string{"boards", "board_members", "clinics", "clinic_members", "procedures"} {
		fmt.Printf("📊 Table %-15s exists: %v\n", table, migrator.HasTable(table))
	}
	fmt.Println()

	if !migrator.HasTable(&model.Board{}) {
		fmt.Println("❌ boards table does NOT exist!")
		fmt.Println("⚠️  Start the server once to run AutoMigrate")
		return
	}

	// Board statistics
	type BoardStats struct {
		Total         int64
		TotalElements int64
		Empty         int64
	}
	var stats BoardStats
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(jsonb_array_length(elements)), 0) AS total_elements,
			COUNT(CASE WHEN jsonb_array_length(elements) = 0 THEN 1 END) AS empty
		FROM boards
	`
	if err := db.Raw(query).Scan(&stats).Error; err != nil {
		log.Fatal("Failed to get statistics:", err)
	}

	fmt.Println("📈 Board Statistics:")
	fmt.Printf("  - Total boards: %d\n", stats.Total)
	fmt.Printf("  - Stored elements (incl. deleted): %d\n", stats.TotalElements)
	fmt.Printf("  - Empty boards: %d\n", stats.Empty)
	fmt.Println()

	// Largest boards, decoded to separate live elements from tombstones
	var boards []model.Board
	if err := db.Select("id", "clinic_id", "name", "elements").
		Order("jsonb_array_length(elements) DESC").
		Limit(10).
		Find(&boards).Error; err != nil {
		log.Fatal("Failed to get largest boards:", err)
	}

	fmt.Println("🗂  Largest Boards (top 10):")
	for _, b := range boards {
		elements, err := collab.DecodeElements(b.Elements)
		if err != nil {
			fmt.Printf("  - %s (clinic %d) %q: ❌ invalid elements: %v\n", b.ID, b.ClinicID, b.Name, err)
			continue
		}
		live := len(collab.Live(elements))
		fmt.Printf("  - %s (clinic %d) %q: %d live, %d deleted\n",
			b.ID, b.ClinicID, b.Name, live, len(elements)-live)
	}
	fmt.Println()

	// Boards whose creator is not a member
	var orphaned int64
	query = `
		SELECT COUNT(*)
		FROM boards b
		LEFT JOIN board_members bm ON bm.board_id = b.id AND bm.user_id = b.created_by
		WHERE bm.user_id IS NULL
	`
	if err := db.Raw(query).Scan(&orphaned).Error; err != nil {
		log.Fatal("Failed to check board members:", err)
	}
	if orphaned > 0 {
		fmt.Printf("⚠️  %d boards are missing their creator as member (run cmd/fix_board_members)\n", orphaned)
	} else {
		fmt.Println("👥 Every board creator is a board member")
	}
}
